// Package pricing bounds resale listing prices.
package pricing

// Guard clamps requested resale prices into the allowed band around the
// tier's base price. The band keeps resales from undercutting free (below
// the floor) or gouging (above a markup of the base price).
type Guard struct {
	// MarkupPercent is the ceiling as a percentage of the base price.
	// 150 allows listings up to 1.5x base.
	MarkupPercent uint64
	// Floor is the absolute minimum listing price.
	Floor int64
}

// Ceiling returns the maximum allowed listing price for a tier with the
// given base price. The ceiling never drops below the floor, so the band is
// never empty even for very cheap tiers.
func (g Guard) Ceiling(basePrice int64) int64 {
	ceiling := basePrice * int64(g.MarkupPercent) / 100
	if ceiling < g.Floor {
		return g.Floor
	}
	return ceiling
}

// Clamp pulls a requested price into the band. Out-of-band requests are not
// rejected; the listing goes up at the nearest bound.
func (g Guard) Clamp(requested, basePrice int64) int64 {
	if requested < g.Floor {
		requested = g.Floor
	}
	if ceiling := g.Ceiling(basePrice); requested > ceiling {
		return ceiling
	}
	return requested
}
