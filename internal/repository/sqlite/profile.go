package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

// compile-time check that *DB implements repository.ProfileRepository
var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `id, email, is_pro, entitlement_version, entitlement_rank, stripe_customer_id, created_at, updated_at`

// GetProfile retrieves a profile by user id.
// Returns apperror.ErrNotFound if no profile exists with that id.
func (db *DB) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, userID)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", userID, err)
	}
	return p, nil
}

// EnsureProfile creates the row on first login.
//
// INSERT ... ON CONFLICT DO NOTHING is a single statement, so a webhook that
// created the row a moment earlier wins and its is_pro survives.
func (db *DB) EnsureProfile(ctx context.Context, userID, email string) (*model.Profile, error) {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (id, email, is_pro, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		userID, email, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ensuring profile %s: %w", userID, err)
	}
	return db.GetProfile(ctx, userID)
}

// ApplyEntitlement is the conditional upsert behind every billing transition.
//
// The WHERE clause on the DO UPDATE branch discards updates that do not
// supersede the stored (version, rank); see model.Profile.Supersedes.
// RowsAffected is 0 exactly when the update was discarded. email is only
// written when the row is created.
func (db *DB) ApplyEntitlement(ctx context.Context, u model.EntitlementUpdate) (bool, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (id, email, is_pro, entitlement_version, entitlement_rank, stripe_customer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			is_pro = excluded.is_pro,
			entitlement_version = excluded.entitlement_version,
			entitlement_rank = excluded.entitlement_rank,
			stripe_customer_id = CASE
				WHEN excluded.stripe_customer_id != '' THEN excluded.stripe_customer_id
				ELSE profiles.stripe_customer_id
			END,
			updated_at = excluded.updated_at
		 WHERE excluded.entitlement_version > profiles.entitlement_version
			OR (excluded.entitlement_version = profiles.entitlement_version
				AND excluded.entitlement_rank >= profiles.entitlement_rank)`,
		u.UserID, u.Email, u.IsPro, u.Version, int(u.Rank), u.CustomerID, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: applying entitlement for %s: %w", u.UserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: reading rows affected for %s: %w", u.UserID, err)
	}
	return n > 0, nil
}

// FindByCustomerID looks a profile up by its billing-provider customer id.
func (db *DB) FindByCustomerID(ctx context.Context, customerID string) (*model.Profile, error) {
	if customerID == "" {
		return nil, apperror.NotFound("profile for customer", customerID)
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE stripe_customer_id = ?
		 ORDER BY updated_at DESC LIMIT 1`, customerID)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile for customer", customerID)
		}
		return nil, fmt.Errorf("sqlite: finding profile by customer %s: %w", customerID, err)
	}
	return p, nil
}

func scanProfile(row *sql.Row) (*model.Profile, error) {
	var (
		p    model.Profile
		rank int
	)
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.IsPro,
		&p.EntitlementVersion,
		&rank,
		&p.StripeCustomerID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.EntitlementRank = model.EntitlementRank(rank)
	return &p, nil
}
