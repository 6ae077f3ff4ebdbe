// Package profiletest provides in-memory profile-store repositories for tests.
package profiletest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	identitydomain "nuomoria/backend/internal/identity/domain"
	identityrepo "nuomoria/backend/internal/identity/repository"
	userdomain "nuomoria/backend/internal/user/domain"
	userrepo "nuomoria/backend/internal/user/repository"
)

// Users is an in-memory user repository. Err, when set, is returned by every
// call; Delay is waited (or ctx) before every call.
type Users struct {
	mu    sync.Mutex
	rows  map[string]*userdomain.User
	Err   error
	Delay time.Duration
	Calls int
}

func NewUsers(rows ...*userdomain.User) *Users {
	u := &Users{rows: map[string]*userdomain.User{}}
	for _, r := range rows {
		u.rows[r.ID] = r.Clone()
	}
	return u
}

var _ userrepo.Repository = (*Users)(nil)

// Set changes the injected error and delay.
func (s *Users) Set(err error, delay time.Duration) {
	s.mu.Lock()
	s.Err, s.Delay = err, delay
	s.mu.Unlock()
}

// Row returns a copy of the stored row for id.
func (s *Users) Row(id string) *userdomain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Clone()
}

// Len returns the number of rows.
func (s *Users) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *Users) enter(ctx context.Context) error {
	s.mu.Lock()
	s.Calls++
	delay, err := s.Delay, s.Err
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Users) find(match func(*userdomain.User) bool) *userdomain.User {
	for _, r := range s.rows {
		if match(r) {
			return r.Clone()
		}
	}
	return nil
}

func (s *Users) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].Clone(), nil
}

func (s *Users) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(u *userdomain.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (s *Users) GetByNickname(ctx context.Context, nickname string) (*userdomain.User, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(func(u *userdomain.User) bool { return u.Nickname != "" && strings.EqualFold(u.Nickname, nickname) }), nil
}

func (s *Users) Upsert(ctx context.Context, u *userdomain.User) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.find(func(o *userdomain.User) bool {
		return o.ID != u.ID && o.Nickname != "" && strings.EqualFold(o.Nickname, u.Nickname)
	}); o != nil {
		return userrepo.ErrNicknameTaken
	}
	now := time.Now().UTC()
	if prev, ok := s.rows[u.ID]; ok {
		// Same columns as the ON CONFLICT update list.
		prev.FirstName = u.FirstName
		prev.LastName = u.LastName
		prev.Nickname = u.Nickname
		prev.Role = u.Role
		prev.Permissions = append([]string(nil), u.Permissions...)
		prev.Active = u.Active
		prev.AvatarURL = u.AvatarURL
		prev.UpdatedAt = now
		return nil
	}
	row := u.Clone()
	row.Provisional = false
	row.LinkedEmail = ""
	row.UpdatedAt = now
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	s.rows[u.ID] = row
	return nil
}

func (s *Users) EnsureUserRow(ctx context.Context, u *userdomain.User) (*userdomain.User, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.rows[u.ID]; ok {
		return prev.Clone(), nil
	}
	if o := s.find(func(o *userdomain.User) bool { return strings.EqualFold(o.Email, u.Email) }); o != nil {
		return nil, userrepo.ErrEmailTaken
	}
	row := u.Clone()
	row.Active = true
	row.CreatedAt = time.Now().UTC()
	row.UpdatedAt = row.CreatedAt
	s.rows[u.ID] = row
	return row.Clone(), nil
}

// Identities is an in-memory identity repository.
type Identities struct {
	mu   sync.Mutex
	rows []*identitydomain.Identity
	Err  error
}

func NewIdentities(rows ...*identitydomain.Identity) *Identities {
	return &Identities{rows: rows}
}

var _ identityrepo.Repository = (*Identities)(nil)

func (s *Identities) GetByProviderSubject(ctx context.Context, provider identitydomain.IdentityProvider, providerID string) (*identitydomain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, i := range s.rows {
		if i.Provider == provider && i.ProviderID == providerID {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Identities) ListByUser(ctx context.Context, userID string) ([]*identitydomain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*identitydomain.Identity
	for _, i := range s.rows {
		if i.UserID == userID {
			c := *i
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Identities) Link(ctx context.Context, i *identitydomain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, o := range s.rows {
		if o.Provider == i.Provider && o.ProviderID == i.ProviderID {
			if o.UserID != i.UserID {
				return identityrepo.ErrLinkedElsewhere
			}
			return nil
		}
	}
	c := *i
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	s.rows = append(s.rows, &c)
	return nil
}
