package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entity names carried by trade events.
const (
	EntityRFQ     = "rfq"
	EntityOffer   = "offer"
	EntityOrder   = "order"
	EntityDeal    = "deal"
	EntityPayment = "payment"
	EntityWallet  = "wallet"
	EntityLedger  = "ledger"
)

// TradeEvent is emitted after every successful state transition.
type TradeEvent struct {
	ID         uuid.UUID       `json:"id"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entity_id"`
	Transition string          `json:"transition"` // e.g. "offer.accepted"
	OrgIDs     []string        `json:"org_ids,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewTradeEvent builds an event whose payload is the JSON form of v.
func NewTradeEvent(entity, entityID, transition string, v any, orgIDs ...string) TradeEvent {
	ev := TradeEvent{
		ID:         uuid.New(),
		Entity:     entity,
		EntityID:   entityID,
		Transition: transition,
		OrgIDs:     compactOrgs(orgIDs),
		OccurredAt: time.Now().UTC(),
	}
	if v != nil {
		if data, err := json.Marshal(v); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

func compactOrgs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Envelope is the canonical event envelope published to the message bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}
