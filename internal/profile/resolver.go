// Package profile resolves the local user for an authenticated principal.
package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"nuomoria/backend/internal/db"
	identitydomain "nuomoria/backend/internal/identity/domain"
	identityrepo "nuomoria/backend/internal/identity/repository"
	"nuomoria/backend/internal/localstate"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	"nuomoria/backend/internal/signupintent"
	userdomain "nuomoria/backend/internal/user/domain"
	userrepo "nuomoria/backend/internal/user/repository"
)

// LastRoleKey is the local state key of the last resolved role.
const LastRoleKey = "profile.lastRole"

var (
	// ErrInvalidPrincipal is wrapped in a terminal ResolutionError for sessions whose principal id is not a UUID.
	ErrInvalidPrincipal = errors.New("profile: invalid principal id")
	// ErrNoEmail is wrapped in a not-found ResolutionError when a principal without a row has no email to create one.
	ErrNoEmail = errors.New("profile: principal has no email")
)

// Resolver maps a principal to exactly one profile-store user.
type Resolver struct {
	users      userrepo.Repository
	identities identityrepo.Repository
	intents    *signupintent.Store
	kv         localstate.Store
	log        zerolog.Logger
	group      singleflight.Group
}

// NewResolver returns a resolver.
func NewResolver(users userrepo.Repository, identities identityrepo.Repository, intents *signupintent.Store, kv localstate.Store, log zerolog.Logger) *Resolver {
	return &Resolver{users: users, identities: identities, intents: intents, kv: kv, log: log}
}

// Resolve returns the local user for p. Every error is a *ResolutionError.
// Concurrent calls for the same principal share one resolution.
func (r *Resolver) Resolve(ctx context.Context, p *identitydomain.Principal, gate mfadomain.Gate) (*userdomain.User, error) {
	if p == nil {
		return nil, &ResolutionError{Kind: KindNotFound, Err: errors.New("no principal")}
	}
	if !gate.Open() {
		return nil, &ResolutionError{Kind: KindMFARequired, PrincipalID: p.ID}
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return nil, &ResolutionError{Kind: KindTerminal, PrincipalID: p.ID, Err: ErrInvalidPrincipal}
	}

	v, err, shared := r.group.Do(p.ID, func() (any, error) {
		return r.resolve(ctx, p)
	})
	if shared {
		r.log.Debug().Str("principal_id", p.ID).Msg("profile: joined in-flight resolution")
	}
	if err != nil {
		return nil, err
	}
	return v.(*userdomain.User).Clone(), nil
}

func (r *Resolver) resolve(ctx context.Context, p *identitydomain.Principal) (*userdomain.User, error) {
	u, err := r.users.GetByID(ctx, p.ID)
	if err != nil {
		return nil, r.storeError(p.ID, err)
	}

	intent := r.peekIntent(ctx)
	if u == nil {
		u, err = r.locate(ctx, p, intent)
		if err != nil {
			return nil, err
		}
	}

	if mergeClaims(u, p) {
		if err := r.users.Upsert(ctx, u); err != nil {
			r.log.Warn().Err(err).Str("user_id", u.ID).Msg("profile: persist merged claims")
		}
	}

	if intent != nil {
		r.applyIntent(ctx, u, intent)
	}
	r.cacheRole(ctx, u.Role)
	return u, nil
}

// locate handles a principal without a row of its own.
func (r *Resolver) locate(ctx context.Context, p *identitydomain.Principal, intent *signupintent.Intent) (*userdomain.User, error) {
	if strings.TrimSpace(p.Email) == "" {
		return nil, &ResolutionError{Kind: KindNotFound, PrincipalID: p.ID, Err: ErrNoEmail}
	}
	if r.inFlight(p, intent) {
		u, err := r.ensure(ctx, p, FallbackRole(p, intent, ""))
		if !errors.Is(err, userrepo.ErrEmailTaken) {
			return u, err
		}
		// The email is owned by another row; the conflict policy decides.
	}

	existing, err := r.users.GetByEmail(ctx, p.Email)
	if err != nil {
		return nil, r.storeError(p.ID, err)
	}
	if existing != nil && existing.ID != p.ID {
		return r.adopt(ctx, p, existing)
	}
	if existing != nil {
		return existing, nil
	}

	u, err := r.ensure(ctx, p, FallbackRole(p, intent, r.CachedRole(ctx)))
	if errors.Is(err, userrepo.ErrEmailTaken) {
		return nil, &ResolutionError{Kind: KindConflict, PrincipalID: p.ID, Err: err}
	}
	return u, err
}

// inFlight reports whether a signup is in progress for p: a stored intent, a
// metadata role or flow claim, or an account created within the freshness window.
func (r *Resolver) inFlight(p *identitydomain.Principal, intent *signupintent.Intent) bool {
	if intent != nil || p.Metadata.Flow != "" {
		return true
	}
	if _, ok := metadataRole(p); ok {
		return true
	}
	return r.intents != nil && r.intents.Fresh(p.CreatedAt)
}

func (r *Resolver) ensure(ctx context.Context, p *identitydomain.Principal, role userdomain.Role) (*userdomain.User, error) {
	first, last := names(p)
	row := &userdomain.User{
		ID:          p.ID,
		Email:       p.Email,
		FirstName:   first,
		LastName:    last,
		Role:        role,
		Active:      true,
		Permissions: userdomain.DefaultPermissions(role),
		AvatarURL:   avatar(p),
	}
	u, err := r.users.EnsureUserRow(ctx, row)
	if err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			return nil, err
		}
		return nil, r.storeError(p.ID, err)
	}
	r.link(ctx, p, u.ID)
	r.log.Info().Str("principal_id", p.ID).Str("role", string(u.Role)).Msg("profile: user row ensured")
	return u, nil
}

// adopt applies the identity-conflict policy: the existing row is adopted only
// when it is already linked to one of the principal's provider identities.
func (r *Resolver) adopt(ctx context.Context, p *identitydomain.Principal, existing *userdomain.User) (*userdomain.User, error) {
	for _, li := range p.Identities {
		linked, err := r.identities.GetByProviderSubject(ctx, li.Provider, li.ProviderID)
		if err != nil {
			return nil, r.storeError(p.ID, err)
		}
		if linked != nil && linked.UserID == existing.ID {
			r.log.Info().Str("principal_id", p.ID).Str("user_id", existing.ID).
				Str("provider", string(li.Provider)).Msg("profile: adopted linked user")
			r.link(ctx, p, existing.ID)
			return existing, nil
		}
	}
	r.log.Warn().Str("principal_id", p.ID).Str("user_id", existing.ID).Msg("profile: email owned by another user")
	return nil, &ResolutionError{Kind: KindConflict, PrincipalID: p.ID, Err: userrepo.ErrEmailTaken}
}

// link records the principal's identities against userID. Best effort.
func (r *Resolver) link(ctx context.Context, p *identitydomain.Principal, userID string) {
	if r.identities == nil {
		return
	}
	for _, li := range p.Identities {
		err := r.identities.Link(ctx, &identitydomain.Identity{
			UserID:     userID,
			Provider:   li.Provider,
			ProviderID: li.ProviderID,
			Email:      li.Email,
		})
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Str("provider", string(li.Provider)).Msg("profile: link identity")
		}
	}
}

// applyIntent lets a pending signup intent set the role of a freshly created row, then consumes it.
func (r *Resolver) applyIntent(ctx context.Context, u *userdomain.User, intent *signupintent.Intent) {
	if intent.Role != u.Role && r.intents.Fresh(u.CreatedAt) {
		prev := u.Role
		u.Role = intent.Role
		u.Permissions = userdomain.DefaultPermissions(intent.Role)
		if err := r.users.Upsert(ctx, u); err != nil {
			r.log.Warn().Err(err).Str("user_id", u.ID).Msg("profile: persist intent role")
		} else {
			r.log.Info().Str("user_id", u.ID).Str("from", string(prev)).Str("to", string(u.Role)).Msg("profile: role set from signup intent")
		}
	}
	if _, err := r.intents.Consume(ctx); err != nil {
		r.log.Warn().Err(err).Msg("profile: consume signup intent")
	}
}

func (r *Resolver) peekIntent(ctx context.Context) *signupintent.Intent {
	if r.intents == nil {
		return nil
	}
	in, err := r.intents.Peek(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("profile: read signup intent")
		return nil
	}
	return in
}

// PendingIntent returns the fresh signup intent without consuming it.
func (r *Resolver) PendingIntent(ctx context.Context) *signupintent.Intent {
	return r.peekIntent(ctx)
}

// CachedRole returns the last resolved role, or "".
func (r *Resolver) CachedRole(ctx context.Context) userdomain.Role {
	if r.kv == nil {
		return ""
	}
	b, err := r.kv.Get(ctx, LastRoleKey)
	if err != nil {
		return ""
	}
	role, _ := userdomain.ParseRole(string(b))
	return role
}

func (r *Resolver) cacheRole(ctx context.Context, role userdomain.Role) {
	if r.kv == nil || role == "" {
		return
	}
	if err := r.kv.Set(ctx, LastRoleKey, []byte(role), 0); err != nil {
		r.log.Warn().Err(err).Msg("profile: cache role")
	}
}

// ClearCache forgets the cached role.
func (r *Resolver) ClearCache(ctx context.Context) error {
	if r.kv == nil {
		return nil
	}
	return r.kv.Delete(ctx, LastRoleKey)
}

// storeError classifies a profile-store failure.
func (r *Resolver) storeError(principalID string, err error) error {
	var re *ResolutionError
	if errors.As(err, &re) {
		return err
	}
	kind := KindTransient
	switch {
	case errors.Is(err, userdomain.ErrInvalidUser):
		kind = KindNotFound
	case db.Classify(err) == db.ClassAuthorization:
		kind = KindTerminal
	}
	return &ResolutionError{Kind: kind, PrincipalID: principalID, Err: err}
}
