package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userdomain "nuomoria/backend/internal/user/domain"
)

func TestCompletion_Validate(t *testing.T) {
	assert.Nil(t, Completion{Nickname: "jonas"}.Validate())
	assert.Nil(t, Completion{Nickname: "Žemaitė", Password: "longenough", Role: "landlord"}.Validate())

	fe := Completion{Nickname: "j!", Password: "short", Role: "owner"}.Validate()
	require.NotNil(t, fe)
	assert.Contains(t, fe, "nickname")
	assert.Contains(t, fe, "password")
	assert.Contains(t, fe, "role")
}

func TestComplete_SetsNicknameAndUpgradesRole(t *testing.T) {
	ctx := context.Background()
	row := existingRow(principalID, "jonas@example.lt", userdomain.RoleTenant)
	row.Nickname = ""
	row.Permissions = userdomain.DefaultPermissions(userdomain.RoleTenant)
	f := newFixture(row)

	u, fe, err := f.r.Complete(ctx, row, Completion{Nickname: "jonas", Role: "landlord"})
	require.NoError(t, err)
	require.Nil(t, fe)
	assert.Equal(t, "jonas", u.Nickname)
	assert.Equal(t, userdomain.RoleLandlord, u.Role)
	stored := f.users.Row(principalID)
	assert.Equal(t, userdomain.RoleLandlord, stored.Role)
	assert.Equal(t, userdomain.DefaultPermissions(userdomain.RoleLandlord), stored.Permissions)
	assert.True(t, u.LooksComplete())
}

func TestComplete_RefusesDowngrade(t *testing.T) {
	row := existingRow(principalID, "jonas@example.lt", userdomain.RoleLandlord)
	f := newFixture(row)

	_, fe, err := f.r.Complete(context.Background(), row, Completion{Nickname: "jonas", Role: "tenant"})
	require.NoError(t, err)
	assert.Contains(t, fe, "role")
	assert.Equal(t, userdomain.RoleLandlord, f.users.Row(principalID).Role)
}

func TestComplete_NicknameTaken(t *testing.T) {
	other := existingRow("22222222-2222-2222-2222-222222222222", "ona@example.lt", userdomain.RoleTenant)
	row := existingRow(principalID, "jonas@example.lt", userdomain.RoleTenant)
	row.Nickname = ""
	f := newFixture(other, row)

	_, fe, err := f.r.Complete(context.Background(), row, Completion{Nickname: "ONA"})
	require.NoError(t, err)
	assert.Equal(t, "nickname already taken", fe["nickname"])
}

func TestComplete_StoreDown(t *testing.T) {
	row := existingRow(principalID, "jonas@example.lt", userdomain.RoleTenant)
	f := newFixture(row)
	f.users.Set(assert.AnError, 0)

	_, fe, err := f.r.Complete(context.Background(), row, Completion{Nickname: "jonas"})
	assert.Nil(t, fe)
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestCheck_DoesNotWrite(t *testing.T) {
	ctx := context.Background()
	other := existingRow("22222222-2222-2222-2222-222222222222", "ona@example.lt", userdomain.RoleTenant)
	row := existingRow(principalID, "jonas@example.lt", userdomain.RoleTenant)
	row.Nickname = ""
	f := newFixture(other, row)

	fe, err := f.r.Check(ctx, row, Completion{Nickname: "ona"})
	require.NoError(t, err)
	assert.Equal(t, "nickname already taken", fe["nickname"])

	fe, err = f.r.Check(ctx, row, Completion{Nickname: "jonas", Role: "landlord"})
	require.NoError(t, err)
	assert.Nil(t, fe)
	stored := f.users.Row(principalID)
	assert.Empty(t, stored.Nickname)
	assert.Equal(t, userdomain.RoleTenant, stored.Role)
}
