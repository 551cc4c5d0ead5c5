package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/visioncare/telehealth/internal/lockout"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository(), bcrypt.MinCost)
}

func TestCreateAndVerifyPassword(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	ident, err := svc.Create(ctx, NewIdentity{Email: " Ada@Example.com ", Phone: "+1 555-0100", Password: "s3cret!", Role: RolePatient})
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", ident.Email)
	assert.Equal(t, "+15550100", ident.Phone)
	assert.True(t, ident.IsActive)
	assert.NotEqual(t, []byte("s3cret!"), ident.PasswordHash)

	found, err := svc.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, found.ID)

	found, err = svc.FindByPhone(ctx, "+1 555 0100")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, found.ID)

	assert.True(t, svc.VerifyPassword(found, "s3cret!"))
	assert.False(t, svc.VerifyPassword(found, "s3cret"))
}

func TestCreateRejectsDuplicates(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, NewIdentity{Email: "a@example.com", Phone: "+1555", Password: "password", Role: RolePatient})
	require.NoError(t, err)

	_, err = svc.Create(ctx, NewIdentity{Email: "A@example.com", Phone: "+1666", Password: "password", Role: RolePatient})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	_, err = svc.Create(ctx, NewIdentity{Email: "b@example.com", Phone: "+1555", Password: "password", Role: RolePatient})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)

	patients, err := svc.ListByRole(ctx, RolePatient)
	require.NoError(t, err)
	assert.Len(t, patients, 1)
}

func TestDeactivateReleasesEmailAndPhone(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, NewIdentity{Email: "a@example.com", Phone: "+1555", Password: "password", Role: RolePatient})
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, first.ID))

	_, err = svc.FindByID(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	second, err := svc.Create(ctx, NewIdentity{Email: "a@example.com", Phone: "+1555", Password: "password", Role: RolePatient})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.ErrorIs(t, svc.Deactivate(ctx, first.ID), ErrNotFound)
}

func TestSetRole(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	ident, err := svc.Create(ctx, NewIdentity{Email: "doc@example.com", Phone: "+1777", Password: "password", Role: RolePatient})
	require.NoError(t, err)

	require.NoError(t, svc.SetRole(ctx, ident.ID, RoleDoctor))
	assert.ErrorIs(t, svc.SetRole(ctx, ident.ID, Role("nurse")), ErrInvalidRole)

	doctors, err := svc.ListByRole(ctx, RoleDoctor)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Equal(t, ident.ID, doctors[0].ID)
}

func TestSetBiometric(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	a, err := svc.Create(ctx, NewIdentity{Email: "a@example.com", Phone: "+1", Password: "password", Role: RolePatient})
	require.NoError(t, err)
	b, err := svc.Create(ctx, NewIdentity{Email: "b@example.com", Phone: "+2", Password: "password", Role: RolePatient})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetBiometric(ctx, a.ID, nil, ""), ErrEmptyTemplate)

	require.NoError(t, svc.SetBiometric(ctx, a.ID, []byte("template-a"), "device-1"))
	found, err := svc.FindByBiometricTemplate(ctx, []byte("template-a"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
	assert.True(t, found.BiometricEnabled)
	assert.Equal(t, "device-1", found.DeviceFingerprint)

	assert.ErrorIs(t, svc.SetBiometric(ctx, b.ID, []byte("template-a"), ""), ErrDuplicateIdentity)

	_, err = svc.FindByBiometricTemplate(ctx, []byte("template-b"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepositorySwapLoginState(t *testing.T) {
	svc := newTestService()
	repo := svc.Repository()
	ctx := context.Background()

	ident, err := svc.Create(ctx, NewIdentity{Email: "a@example.com", Phone: "+1", Password: "password", Role: RolePatient})
	require.NoError(t, err)

	until := time.Now().Add(time.Hour)
	ok, err := repo.SwapLoginState(ctx, ident.ID, lockout.State{}, lockout.State{FailedCount: 5, LockUntil: &until})
	require.NoError(t, err)
	assert.True(t, ok)

	// stale expectation loses
	ok, err = repo.SwapLoginState(ctx, ident.ID, lockout.State{}, lockout.State{FailedCount: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := repo.LoginState(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, st.FailedCount)

	_, err = repo.LoginState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
