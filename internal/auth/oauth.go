package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/fiifi-auth/internal/model"
	"github.com/iliyamo/fiifi-auth/internal/repository"
	"github.com/iliyamo/fiifi-auth/internal/utils"
)

// Profile is an identity already verified by an external OAuth provider.
type Profile struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"providerId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

// Resolution reports how Resolve found the local user.
type Resolution int

const (
	ResolvedByProvider Resolution = iota
	ResolvedByEmail
	ResolvedCreated
)

const (
	maxUsernameLen      = 64
	usernameRetries     = 3
	resolveConflictRuns = 2
)

var usernameUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// OAuthIdentityResolver maps a verified external profile to a local user,
// linking the provider id to an existing account or creating a new one.
type OAuthIdentityResolver struct {
	users UserStore
	now   func() time.Time
	log   *slog.Logger
}

func NewOAuthIdentityResolver(users UserStore, now func() time.Time, log *slog.Logger) *OAuthIdentityResolver {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &OAuthIdentityResolver{users: users, now: now, log: log}
}

// Resolve looks the profile up by provider id, then by email (linking the
// provider id on a match), and otherwise creates a verified account.  The
// account is returned whatever its active flag.  Calling Resolve again
// with the same profile returns the same user id; a concurrent resolve
// that wins a unique key race is picked up by starting over.
func (r *OAuthIdentityResolver) Resolve(ctx context.Context, p Profile) (model.User, Resolution, error) {
	p.Provider = strings.ToLower(strings.TrimSpace(p.Provider))
	p.ProviderID = strings.TrimSpace(p.ProviderID)
	p.Email = repository.NormalizeEmail(p.Email)

	var lastErr error
	for run := 0; run < resolveConflictRuns; run++ {
		u, res, err := r.resolveOnce(ctx, p)
		if !errors.Is(err, repository.ErrConflict) {
			return u, res, err
		}
		lastErr = err
	}
	return model.User{}, 0, lastErr
}

func (r *OAuthIdentityResolver) resolveOnce(ctx context.Context, p Profile) (model.User, Resolution, error) {
	u, err := r.users.GetByProvider(ctx, p.Provider, p.ProviderID)
	if err == nil {
		return u, ResolvedByProvider, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.User{}, 0, err
	}

	u, err = r.users.GetByEmail(ctx, p.Email)
	if err == nil {
		now := r.now()
		if err := r.users.LinkProvider(ctx, u.ID, p.Provider, p.ProviderID, now); err != nil {
			return model.User{}, 0, err
		}
		if u.OAuthProviders == nil {
			u.OAuthProviders = map[string]string{}
		}
		u.OAuthProviders[p.Provider] = p.ProviderID
		u.UpdatedAt = now
		r.log.InfoContext(ctx, "linked oauth provider to existing account",
			"operation", "oauth_resolve",
			"outcome", "linked",
			"user_id", u.ID,
			"provider", p.Provider,
		)
		return u, ResolvedByEmail, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.User{}, 0, err
	}

	u, err = r.create(ctx, p)
	if err != nil {
		return model.User{}, 0, err
	}
	r.log.InfoContext(ctx, "created account from oauth profile",
		"operation", "oauth_resolve",
		"outcome", "created",
		"user_id", u.ID,
		"provider", p.Provider,
	)
	return u, ResolvedCreated, nil
}

func (r *OAuthIdentityResolver) create(ctx context.Context, p Profile) (model.User, error) {
	now := r.now()
	u := model.User{
		ID:              uuid.NewString(),
		Email:           p.Email,
		Username:        BaseUsername(p.Email, p.Provider),
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Role:            model.RoleUser,
		IsActive:        true,
		IsEmailVerified: true,
		OAuthProviders:  map[string]string{p.Provider: p.ProviderID},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	base := u.Username
	for try := 0; ; try++ {
		err := r.users.Create(ctx, u)
		if !errors.Is(err, repository.ErrUsernameTaken) {
			return u, err
		}
		if try == usernameRetries {
			return model.User{}, fmt.Errorf("generate username for %s: %w", p.Provider, err)
		}
		suffix, err := utils.RandomHex(3)
		if err != nil {
			return model.User{}, err
		}
		u.Username = withSuffix(base, suffix)
	}
}

// BaseUsername derives "<email local part>_<provider>" restricted to
// lower-case letters, digits, dot, dash and underscore.
func BaseUsername(email, provider string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	local = usernameUnsafe.ReplaceAllString(strings.ToLower(local), "")
	if local == "" {
		local = "user"
	}
	name := local + "_" + usernameUnsafe.ReplaceAllString(strings.ToLower(provider), "")
	if len(name) > maxUsernameLen {
		name = name[:maxUsernameLen]
	}
	return name
}

func withSuffix(base, suffix string) string {
	if max := maxUsernameLen - len(suffix) - 1; len(base) > max {
		base = base[:max]
	}
	return base + "_" + suffix
}
