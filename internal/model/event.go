package model

import "time"

// EventStatus tracks where a billing event is in its processing lifecycle.
type EventStatus string

const (
	EventReceived  EventStatus = "received"
	EventProcessed EventStatus = "processed"
	EventIgnored   EventStatus = "ignored"   // type we do not act on
	EventUnmatched EventStatus = "unmatched" // no user could be correlated
	EventFailed    EventStatus = "failed"    // store write failed; provider will retry
)

// Settled reports whether redelivery of the event should be short-circuited.
func (s EventStatus) Settled() bool {
	return s == EventProcessed || s == EventIgnored
}

// BillingEvent is one verified provider notification kept in the append-only
// event log. Payload is the raw body exactly as it was signed.
type BillingEvent struct {
	ID          string      `json:"id"` // provider event id, e.g. evt_...
	Type        string      `json:"type"`
	Payload     []byte      `json:"-"`
	Status      EventStatus `json:"status"`
	Note        string      `json:"note,omitempty"`
	UserID      string      `json:"userId,omitempty"`
	Attempts    int         `json:"attempts"`
	CreatedAt   int64       `json:"createdAt"` // provider timestamp
	ReceivedAt  time.Time   `json:"receivedAt"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
}
