// Package model defines the data structures used throughout the application.
package model

import "time"

// Profile is a user's entitlement record.
//
// ID equals the identity provider's user id and never changes after creation.
// Email is captured when the row is created and may lag behind the identity
// provider. IsPro is the single entitlement flag the rest of the application
// reads.
//
// EntitlementVersion is the provider timestamp (unix seconds) of the billing
// event that last set IsPro, and EntitlementRank its kind. Updates are
// ordered by (version, rank): anything older is discarded, so out-of-order
// deliveries resolve as "latest event wins" even within one second.
type Profile struct {
	ID                 string          `json:"id"`
	Email              string          `json:"email"`
	IsPro              bool            `json:"isPro"`
	EntitlementVersion int64           `json:"entitlementVersion"`
	EntitlementRank    EntitlementRank `json:"-"`
	StripeCustomerID   string          `json:"stripeCustomerId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// EntitlementRank breaks ties between updates that carry the same version.
// The provider stamps events in whole seconds, and a checkout completion and
// the subscription it creates routinely share one.
type EntitlementRank int

const (
	// RankPending: the subscription exists but is not paid for yet
	// (incomplete) or its status is not recognised.
	RankPending EntitlementRank = iota
	// RankActive: payment confirmed (checkout completed, active, trialing,
	// past_due).
	RankActive
	// RankTerminal: the subscription ended (canceled, unpaid, deleted, ...).
	RankTerminal
)

// Supersedes reports whether an update at (version, rank) replaces the
// stored one. Equal pairs apply, so a replay rewrites the same value.
func (p *Profile) Supersedes(version int64, rank EntitlementRank) bool {
	if version != p.EntitlementVersion {
		return version > p.EntitlementVersion
	}
	return rank >= p.EntitlementRank
}

// EntitlementUpdate is one requested transition of Profile.IsPro.
type EntitlementUpdate struct {
	UserID string
	// Email is only used when the update has to create the row.
	Email      string
	IsPro      bool
	Version    int64
	Rank       EntitlementRank
	CustomerID string
}
