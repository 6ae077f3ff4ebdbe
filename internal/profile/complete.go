package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	userdomain "nuomoria/backend/internal/user/domain"
	userrepo "nuomoria/backend/internal/user/repository"
)

// FieldErrors maps an input field to a user-facing message.
type FieldErrors map[string]string

// Completion is the onboarding form.
type Completion struct {
	Nickname string `validate:"required,min=3,max=30,alphanumunicode"`
	Password string `validate:"omitempty,min=8,max=72"`
	Role     string `validate:"omitempty,oneof=tenant landlord"`
}

var validate = validator.New()

// Validate checks the form. It returns nil when the form is valid.
func (c Completion) Validate() FieldErrors {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"form": err.Error()}
	}
	out := FieldErrors{}
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch field {
		case "nickname":
			out[field] = "nickname must be 3-30 letters or digits"
		case "password":
			out[field] = "password must be at least 8 characters"
		case "role":
			out[field] = "role must be tenant or landlord"
		default:
			out[field] = fe.Tag()
		}
	}
	return out
}

// Check reports the field errors Complete would return for c without writing
// anything. Run it before side effects that belong to the same form.
func (r *Resolver) Check(ctx context.Context, u *userdomain.User, c Completion) (FieldErrors, error) {
	_, fe, err := r.prepare(ctx, u, c)
	return fe, err
}

// Complete applies the nickname and role of c to u and persists the row.
// Nickname collisions and role downgrades come back as field errors; the
// password is not handled here.
func (r *Resolver) Complete(ctx context.Context, u *userdomain.User, c Completion) (*userdomain.User, FieldErrors, error) {
	updated, fe, err := r.prepare(ctx, u, c)
	if fe != nil || err != nil {
		return nil, fe, err
	}
	if err := r.users.Upsert(ctx, updated); err != nil {
		if errors.Is(err, userrepo.ErrNicknameTaken) {
			return nil, FieldErrors{"nickname": "nickname already taken"}, nil
		}
		return nil, nil, r.storeError(u.ID, err)
	}
	updated.Provisional = false
	r.cacheRole(ctx, updated.Role)
	return updated, nil, nil
}

// prepare validates c against u and the store and returns the row to write.
func (r *Resolver) prepare(ctx context.Context, u *userdomain.User, c Completion) (*userdomain.User, FieldErrors, error) {
	if fe := c.Validate(); fe != nil {
		return nil, fe, nil
	}
	updated := u.Clone()
	updated.Nickname = strings.TrimSpace(c.Nickname)
	if c.Role != "" {
		role, _ := userdomain.ParseRole(c.Role)
		if !u.Role.CanChangeTo(role) {
			return nil, FieldErrors{"role": "landlords cannot switch back to tenant"}, nil
		}
		if role != updated.Role {
			updated.Role = role
			updated.Permissions = userdomain.DefaultPermissions(role)
		}
	}

	holder, err := r.users.GetByNickname(ctx, updated.Nickname)
	if err != nil {
		return nil, nil, r.storeError(u.ID, err)
	}
	if holder != nil && holder.ID != u.ID {
		return nil, FieldErrors{"nickname": "nickname already taken"}, nil
	}
	return updated, nil, nil
}
