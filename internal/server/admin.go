package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"TicketLedger/internal/command"
)

// Admin endpoints build commands and push them into the engine's inbound
// channel. The engine enforces the actual authorization rules (organizer
// match, owner match, freeze exemptions); the server only validates shape.

type tierSpecRequest struct {
	DropID    string     `json:"drop_id"`
	Price     int64      `json:"price"`
	MaxKeys   *uint64    `json:"max_keys,omitempty"`
	SaleStart *time.Time `json:"sale_start,omitempty"`
	SaleEnd   *time.Time `json:"sale_end,omitempty"`
}

func (r tierSpecRequest) spec() command.TierSpec {
	ts := command.TierSpec{
		DropID:  r.DropID,
		Price:   r.Price,
		MaxKeys: r.MaxKeys,
	}
	if r.SaleStart != nil {
		ts.SaleStart = *r.SaleStart
	}
	if r.SaleEnd != nil {
		ts.SaleEnd = *r.SaleEnd
	}
	return ts
}

type createEventRequest struct {
	CommandID string            `json:"command_id"`
	EventID   string            `json:"event_id"`
	Organizer string            `json:"organizer"`
	Name      string            `json:"name"`
	Metadata  string            `json:"metadata"`
	Tiers     []tierSpecRequest `json:"tiers"`
}

func (s *Server) createEvent(c echo.Context) error {
	var req createEventRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "create_event", "invalid body")
	}
	if req.EventID == "" || req.Organizer == "" || req.Name == "" {
		return s.badRequest(c, "create_event", "event_id, organizer and name are required")
	}

	cmd := &command.CreateEvent{
		CommandID: commandID(req.CommandID),
		EventID:   req.EventID,
		Organizer: req.Organizer,
		Name:      req.Name,
		Metadata:  req.Metadata,
		At:        time.Now().UTC(),
	}
	for _, t := range req.Tiers {
		if t.DropID == "" {
			return s.badRequest(c, "create_event", "every tier needs a drop_id")
		}
		cmd.Tiers = append(cmd.Tiers, t.spec())
	}
	return s.enqueue(c, "create_event", cmd)
}

type addTiersRequest struct {
	CommandID string            `json:"command_id"`
	Organizer string            `json:"organizer"`
	Tiers     []tierSpecRequest `json:"tiers"`
}

func (s *Server) addTiers(c echo.Context) error {
	var req addTiersRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "add_tiers", "invalid body")
	}
	if req.Organizer == "" || len(req.Tiers) == 0 {
		return s.badRequest(c, "add_tiers", "organizer and tiers are required")
	}

	cmd := &command.AddTiers{
		CommandID: commandID(req.CommandID),
		Organizer: req.Organizer,
		EventID:   c.PathParam("eventID"),
		At:        time.Now().UTC(),
	}
	for _, t := range req.Tiers {
		if t.DropID == "" {
			return s.badRequest(c, "add_tiers", "every tier needs a drop_id")
		}
		cmd.Tiers = append(cmd.Tiers, t.spec())
	}
	return s.enqueue(c, "add_tiers", cmd)
}

type modifyPricesRequest struct {
	CommandID string           `json:"command_id"`
	Organizer string           `json:"organizer"`
	Prices    map[string]int64 `json:"prices"`
}

func (s *Server) modifyTierPrices(c echo.Context) error {
	var req modifyPricesRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "modify_prices", "invalid body")
	}
	if req.Organizer == "" || len(req.Prices) == 0 {
		return s.badRequest(c, "modify_prices", "organizer and prices are required")
	}

	return s.enqueue(c, "modify_prices", &command.ModifyTierPrices{
		CommandID: commandID(req.CommandID),
		Organizer: req.Organizer,
		EventID:   c.PathParam("eventID"),
		Prices:    req.Prices,
		At:        time.Now().UTC(),
	})
}

type modifyMaxKeysRequest struct {
	CommandID string             `json:"command_id"`
	Organizer string             `json:"organizer"`
	MaxKeys   map[string]*uint64 `json:"max_keys"`
}

func (s *Server) modifyMaxKeys(c echo.Context) error {
	var req modifyMaxKeysRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "modify_max_keys", "invalid body")
	}
	if req.Organizer == "" || len(req.MaxKeys) == 0 {
		return s.badRequest(c, "modify_max_keys", "organizer and max_keys are required")
	}

	return s.enqueue(c, "modify_max_keys", &command.ModifyMaxKeys{
		CommandID: commandID(req.CommandID),
		Organizer: req.Organizer,
		EventID:   c.PathParam("eventID"),
		MaxKeys:   req.MaxKeys,
		At:        time.Now().UTC(),
	})
}

type setEventStatusRequest struct {
	CommandID string `json:"command_id"`
	Organizer string `json:"organizer"`
	Active    bool   `json:"active"`
}

func (s *Server) setEventStatus(c echo.Context) error {
	var req setEventStatusRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "set_event_status", "invalid body")
	}
	if req.Organizer == "" {
		return s.badRequest(c, "set_event_status", "organizer is required")
	}

	return s.enqueue(c, "set_event_status", &command.SetEventStatus{
		CommandID: commandID(req.CommandID),
		Organizer: req.Organizer,
		EventID:   c.PathParam("eventID"),
		Active:    req.Active,
		At:        time.Now().UTC(),
	})
}

type setResaleStatusRequest struct {
	CommandID      string `json:"command_id"`
	Organizer      string `json:"organizer"`
	ResalesAllowed bool   `json:"resales_allowed"`
}

func (s *Server) setResaleStatus(c echo.Context) error {
	var req setResaleStatusRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "set_resale_status", "invalid body")
	}
	if req.Organizer == "" {
		return s.badRequest(c, "set_resale_status", "organizer is required")
	}

	return s.enqueue(c, "set_resale_status", &command.SetResaleStatus{
		CommandID:      commandID(req.CommandID),
		Organizer:      req.Organizer,
		EventID:        c.PathParam("eventID"),
		ResalesAllowed: req.ResalesAllowed,
		At:             time.Now().UTC(),
	})
}

type deleteEventRequest struct {
	CommandID string `json:"command_id"`
	Organizer string `json:"organizer"`
}

func (s *Server) deleteEvent(c echo.Context) error {
	var req deleteEventRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "delete_event", "invalid body")
	}
	if req.Organizer == "" {
		return s.badRequest(c, "delete_event", "organizer is required")
	}

	return s.enqueue(c, "delete_event", &command.DeleteEvent{
		CommandID: commandID(req.CommandID),
		Organizer: req.Organizer,
		EventID:   c.PathParam("eventID"),
		At:        time.Now().UTC(),
	})
}

type setFreezeRequest struct {
	CommandID string `json:"command_id"`
	Owner     string `json:"owner"`
	Frozen    bool   `json:"frozen"`
}

func (s *Server) setFreeze(c echo.Context) error {
	var req setFreezeRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "set_freeze", "invalid body")
	}
	if req.Owner == "" {
		return s.badRequest(c, "set_freeze", "owner is required")
	}

	return s.enqueue(c, "set_freeze", &command.SetFreeze{
		CommandID: commandID(req.CommandID),
		Owner:     req.Owner,
		Frozen:    req.Frozen,
		At:        time.Now().UTC(),
	})
}

type updateConfigRequest struct {
	CommandID           string  `json:"command_id"`
	Owner               string  `json:"owner"`
	MarkupPercent       *uint64 `json:"markup_percent,omitempty"`
	PriceFloor          *int64  `json:"price_floor,omitempty"`
	RegistryAccount     *string `json:"registry_account,omitempty"`
	RelayAccount        *string `json:"relay_account,omitempty"`
	BaseKeyStorageBytes *int64  `json:"base_key_storage_bytes,omitempty"`
	ByteCost            *int64  `json:"byte_cost,omitempty"`
	SafetyFactorBps     *uint64 `json:"safety_factor_bps,omitempty"`
	MaxMetadataBytes    *int64  `json:"max_metadata_bytes,omitempty"`
}

func (s *Server) updateConfig(c echo.Context) error {
	var req updateConfigRequest
	if err := c.Bind(&req); err != nil {
		return s.badRequest(c, "update_config", "invalid body")
	}
	if req.Owner == "" {
		return s.badRequest(c, "update_config", "owner is required")
	}

	return s.enqueue(c, "update_config", &command.UpdateConfig{
		CommandID:           commandID(req.CommandID),
		Owner:               req.Owner,
		MarkupPercent:       req.MarkupPercent,
		PriceFloor:          req.PriceFloor,
		RegistryAccount:     req.RegistryAccount,
		RelayAccount:        req.RelayAccount,
		BaseKeyStorageBytes: req.BaseKeyStorageBytes,
		ByteCost:            req.ByteCost,
		SafetyFactorBps:     req.SafetyFactorBps,
		MaxMetadataBytes:    req.MaxMetadataBytes,
		At:                  time.Now().UTC(),
	})
}

// enqueue submits a command without blocking the HTTP handler. A full
// channel means the engine is saturated; the caller should retry with the
// same command_id, which dedups on the engine side.
func (s *Server) enqueue(c echo.Context, endpoint string, cmd command.Command) error {
	select {
	case s.commands <- cmd:
		s.metrics.QueryRequests.WithLabelValues(endpoint, "accepted").Inc()
		return c.JSON(http.StatusAccepted, map[string]string{
			"command_id": cmd.IdempotencyKey(),
			"status":     "accepted",
		})
	default:
		s.metrics.QueryRequests.WithLabelValues(endpoint, "overloaded").Inc()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "engine busy, retry with the same command_id",
		})
	}
}

func commandID(provided string) string {
	if provided != "" {
		return provided
	}
	return uuid.NewString()
}
