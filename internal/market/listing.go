package market

import "time"

// Listing is a single key offered for resale. The key stays in the registry
// under the seller's ownership until a resale settlement transfers it; the
// listing only records the offer.
type Listing struct {
	// PublicKey identifies the listed key inside its drop.
	PublicKey string
	DropID    string
	EventID   string
	Seller    string
	// Price after the price guard clamped the seller's request.
	Price int64
	// ApprovalID is the registry approval that authorizes the marketplace
	// to transfer this key on the seller's behalf.
	ApprovalID uint64
	ListedAt   time.Time
}
