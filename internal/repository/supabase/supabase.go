// Package supabase implements repository.ProfileRepository against the managed
// backend's PostgREST API using postgrest-go.
//
// Requests authenticate with the service-role key, which bypasses row level
// security. PostgREST behind the API gateway wants the key twice: as the
// apikey header and as the bearer token, which an oauth2 static token source
// attaches.
//
// The conditional upsert is not expressible as a single PostgREST call, so it
// runs server-side as the apply_pro_entitlement function defined in
// supabase/migrations.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"golang.org/x/oauth2"

	"github.com/sakif/proservice/internal/apperror"
	"github.com/sakif/proservice/internal/model"
	"github.com/sakif/proservice/internal/repository"
)

var _ repository.ProfileRepository = (*Store)(nil)

const (
	restPath       = "/rest/v1"
	schema         = "public"
	profilesTable  = "profiles"
	defaultTimeout = 10 * time.Second

	// Called through the query builder rather than Client.Rpc: Rpc ignores
	// the response status, the builder turns PostgREST errors into errors.
	applyRPC = "rpc/apply_pro_entitlement"
)

// Store talks to the profiles table.
type Store struct {
	restURL   string
	apiKey    string
	transport http.RoundTripper
}

// New creates a Store. baseURL is the project URL (https://<ref>.supabase.co).
func New(ctx context.Context, baseURL, serviceRoleKey string) (*Store, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, apperror.MissingConfig("SUPABASE_URL")
	}
	if strings.TrimSpace(serviceRoleKey) == "" {
		return nil, apperror.MissingConfig("SUPABASE_SERVICE_ROLE_KEY")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("supabase: invalid URL %q: %w", baseURL, err)
	}

	bearer := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: serviceRoleKey,
		TokenType:   "Bearer",
	}))

	return &Store{
		restURL:   baseURL + restPath,
		apiKey:    serviceRoleKey,
		transport: bearer.Transport,
	}, nil
}

// client returns a PostgREST client bound to ctx. postgrest-go builds its
// requests without a context, so the deadline is attached in the transport.
// A fresh client per call also keeps the client's sticky ClientError from
// leaking into unrelated requests.
func (s *Store) client(ctx context.Context) (*postgrest.Client, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)

	c := postgrest.NewClient(s.restURL, schema, map[string]string{"apikey": s.apiKey})
	c.Transport.Parent = contextTransport{ctx: ctx, base: s.transport}
	return c, cancel
}

type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// profileRow mirrors the column names of the managed table.
type profileRow struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	IsPro              bool      `json:"isPro"`
	EntitlementVersion int64     `json:"entitlement_version"`
	EntitlementRank    int       `json:"entitlement_rank"`
	StripeCustomerID   *string   `json:"stripe_customer_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (r profileRow) toModel() *model.Profile {
	p := &model.Profile{
		ID:                 r.ID,
		Email:              r.Email,
		IsPro:              r.IsPro,
		EntitlementVersion: r.EntitlementVersion,
		EntitlementRank:    model.EntitlementRank(r.EntitlementRank),
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.StripeCustomerID != nil {
		p.StripeCustomerID = *r.StripeCustomerID
	}
	return p
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	c, cancel := s.client(ctx)
	defer cancel()

	var rows []profileRow
	_, err := c.From(profilesTable).
		Select("*", "", false).
		Eq("id", userID).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, classify("getting profile "+userID, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("profile", userID)
	}
	return rows[0].toModel(), nil
}

// EnsureProfile inserts a non-pro row and reads it back. A unique violation
// means the row already exists (possibly created by a webhook a moment
// earlier), which is the outcome we want.
func (s *Store) EnsureProfile(ctx context.Context, userID, email string) (*model.Profile, error) {
	c, cancel := s.client(ctx)
	defer cancel()

	row := map[string]any{"id": userID, "email": email, "isPro": false}
	_, _, err := c.From(profilesTable).Insert(row, false, "", "minimal", "").Execute()
	if err != nil && sqlState(err) != uniqueViolation {
		return nil, classify("ensuring profile "+userID, err)
	}
	return s.GetProfile(ctx, userID)
}

func (s *Store) ApplyEntitlement(ctx context.Context, u model.EntitlementUpdate) (bool, error) {
	c, cancel := s.client(ctx)
	defer cancel()

	args := map[string]any{
		"p_user_id":     u.UserID,
		"p_email":       u.Email,
		"p_is_pro":      u.IsPro,
		"p_version":     u.Version,
		"p_rank":        int(u.Rank),
		"p_customer_id": u.CustomerID,
	}

	body, _, err := c.From(applyRPC).Insert(args, false, "", "", "").Execute()
	if err != nil {
		return false, classify("applying entitlement for "+u.UserID, err)
	}

	var applied bool
	if err := json.Unmarshal(body, &applied); err != nil {
		return false, fmt.Errorf("supabase: decoding apply_pro_entitlement result %q: %w", body, err)
	}
	return applied, nil
}

func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*model.Profile, error) {
	if customerID == "" {
		return nil, apperror.NotFound("profile for customer", customerID)
	}

	c, cancel := s.client(ctx)
	defer cancel()

	var rows []profileRow
	_, err := c.From(profilesTable).
		Select("*", "", false).
		Eq("stripe_customer_id", customerID).
		Order("updated_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, classify("finding profile by customer "+customerID, err)
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("profile for customer", customerID)
	}
	return rows[0].toModel(), nil
}

const uniqueViolation = "23505"

// postgrest-go reports PostgREST errors as "(<code>) <message>".
var sqlStatePattern = regexp.MustCompile(`^\(([0-9A-Z]{5})\) `)

// sqlState extracts the SQLSTATE of a PostgREST error, or "" for transport
// failures and PostgREST's own PGRST codes.
func sqlState(err error) string {
	if m := sqlStatePattern.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}

// classify separates data the database will never accept from failures that
// may succeed on retry. SQLSTATE classes 22 (data exception, e.g. a user id
// that is not a uuid) and 23 (integrity constraint, e.g. no such auth user)
// become validation errors.
func classify(op string, err error) error {
	if state := sqlState(err); len(state) == 5 && (state[:2] == "22" || state[:2] == "23") {
		return &apperror.AppError{
			Err:     apperror.ErrValidation,
			Message: "entitlement store rejected " + op,
			Field:   "userId",
			Cause:   err,
		}
	}
	return fmt.Errorf("supabase: %s: %w", op, err)
}
