package identity

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/fsops"
	"github.com/filedepot/filedepot/internal/mail"
	"github.com/filedepot/filedepot/internal/store"
)

const testPassword = "correct horse battery"

func newService(t *testing.T) (*Service, *store.Store, string) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, fsops.New(root), &mail.LogSender{Log: log}, log)
	return svc, st, root
}

func register(t *testing.T, svc *Service, st *store.Store, username, email string) store.User {
	t.Helper()
	u, err := svc.Register(username, email, testPassword)
	require.NoError(t, err)
	require.NoError(t, svc.Verify(depot.ParseUserRef(username), u.VerificationCode))
	u, err = st.GetUserByID(u.ID)
	require.NoError(t, err)
	return u
}

func TestRegisterAndVerify(t *testing.T) {
	svc, st, root := newService(t)

	u, err := svc.Register("Alice", "alice@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.False(t, u.Verified)
	assert.Len(t, u.VerificationCode, 6)
	assert.DirExists(t, filepath.Join(root, "alice", "shared"))

	// Unverified accounts cannot log in.
	_, err = svc.Authenticate(depot.ParseUserRef("alice"), testPassword)
	assert.ErrorIs(t, err, depot.ErrForbidden)

	// A wrong code does not verify.
	err = svc.Verify(depot.ParseUserRef("alice"), "999999x")
	assert.ErrorIs(t, err, depot.ErrInvalidToken)

	require.NoError(t, svc.Verify(depot.ParseUserRef("alice"), u.VerificationCode))
	got, err := st.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.True(t, got.Verified)

	// Verifying again is a no-op.
	require.NoError(t, svc.Verify(depot.ParseUserRef("alice"), "whatever"))
}

func TestRegisterConflicts(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Register("alice", "alice@example.com", testPassword)
	require.NoError(t, err)

	_, err = svc.Register("alice", "other@example.com", testPassword)
	assert.ErrorIs(t, err, depot.ErrConflict)
	_, err = svc.Register("alice2", "alice@example.com", testPassword)
	assert.ErrorIs(t, err, depot.ErrConflict)

	// A username may not look like an email address.
	_, err = svc.Register("alice@example.com", "a2@example.com", testPassword)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")

	got, err := svc.Authenticate(depot.ParseUserRef("alice"), testPassword)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	// Login by email works the same.
	_, err = svc.Authenticate(depot.ParseUserRef("ALICE@example.com"), testPassword)
	require.NoError(t, err)

	_, err = svc.Authenticate(depot.ParseUserRef("alice"), "wrong password")
	assert.ErrorIs(t, err, depot.ErrForbidden)

	// Unknown accounts read the same as a bad password.
	_, err = svc.Authenticate(depot.ParseUserRef("mallory"), testPassword)
	assert.ErrorIs(t, err, depot.ErrForbidden)

	require.NoError(t, svc.SetDisabled(alice.ID, true))
	_, err = svc.Authenticate(depot.ParseUserRef("alice"), testPassword)
	assert.ErrorIs(t, err, depot.ErrForbidden)
}

func TestAuthenticateLockout(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")

	for i := 0; i < 5; i++ {
		_, err := svc.Authenticate(depot.ParseUserRef("alice"), "wrong password")
		assert.ErrorIs(t, err, depot.ErrForbidden)
	}

	// The fifth failure set a lockout; even the right password bounces.
	_, err := svc.Authenticate(depot.ParseUserRef("alice"), testPassword)
	assert.ErrorIs(t, err, depot.ErrRateLimited)

	u, err := st.GetUserByID(alice.ID)
	require.NoError(t, err)
	require.NotNil(t, u.LockedUntil)
	assert.Equal(t, 5, u.FailedLogins)
}

func TestSetPassword(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")

	require.NoError(t, svc.SetPassword(alice.ID, "a new password"))
	_, err := svc.Authenticate(depot.ParseUserRef("alice"), testPassword)
	assert.ErrorIs(t, err, depot.ErrForbidden)
	_, err = svc.Authenticate(depot.ParseUserRef("alice"), "a new password")
	assert.NoError(t, err)
}

func TestGroupLifecycle(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")
	bob := register(t, svc, st, "bob", "bob@example.com")
	carol := register(t, svc, st, "carol", "carol@example.com")

	g, err := svc.CreateGroup(alice, "team", "the team")
	require.NoError(t, err)
	assert.True(t, g.Active)

	// The creator is the first admin.
	m, err := st.GetGroupMember(g.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, m.IsAdmin)

	require.NoError(t, svc.AddMember(alice, "team", depot.ParseUserRef("bob"), false))

	// Non-admins cannot add members.
	err = svc.AddMember(bob, "team", depot.ParseUserRef("carol"), false)
	assert.ErrorIs(t, err, depot.ErrForbidden)
	// Non-members cannot list members.
	_, err = svc.Members(carol, "team")
	assert.ErrorIs(t, err, depot.ErrForbidden)

	members, err := svc.Members(bob, "team")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	groups, err := svc.Groups(bob.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "team", groups[0].Name)
}

func TestLastAdminCannotLeave(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")
	bob := register(t, svc, st, "bob", "bob@example.com")

	_, err := svc.CreateGroup(alice, "team", "")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(alice, "team", depot.ParseUserRef("bob"), false))

	// alice is the only admin and bob is still a member.
	err = svc.RemoveMember(alice, "team", depot.ParseUserRef("alice"))
	assert.ErrorIs(t, err, depot.ErrForbidden)

	// Promoting bob clears the way.
	require.NoError(t, svc.SetMemberAdmin(alice, "team", depot.ParseUserRef("bob"), true))
	err = svc.RemoveMember(alice, "team", depot.ParseUserRef("alice"))
	require.NoError(t, err)

	// A member may remove themselves without being admin.
	carol := register(t, svc, st, "carol", "carol@example.com")
	require.NoError(t, svc.AddMember(bob, "team", depot.ParseUserRef("carol"), false))
	require.NoError(t, svc.RemoveMember(carol, "team", depot.ParseUserRef("carol")))

	// Even as its only member, the last admin cannot leave; the group
	// must be deleted instead.
	err = svc.RemoveMember(bob, "team", depot.ParseUserRef("bob"))
	assert.ErrorIs(t, err, depot.ErrForbidden)
}

func TestLastAdminCannotBeDemoted(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")

	_, err := svc.CreateGroup(alice, "team", "")
	require.NoError(t, err)

	// alice is the sole member and sole admin.
	err = svc.SetMemberAdmin(alice, "team", depot.ParseUserRef("alice"), false)
	assert.ErrorIs(t, err, depot.ErrForbidden)

	m, err := st.GetGroupMember(mustGroup(t, st, "team").ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, m.IsAdmin)
}

func mustGroup(t *testing.T, st *store.Store, name string) store.Group {
	t.Helper()
	g, err := st.GetGroupByName(name)
	require.NoError(t, err)
	return g
}

func TestSetGroupActive(t *testing.T) {
	svc, st, _ := newService(t)
	alice := register(t, svc, st, "alice", "alice@example.com")
	bob := register(t, svc, st, "bob", "bob@example.com")

	_, err := svc.CreateGroup(alice, "team", "")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(alice, "team", depot.ParseUserRef("bob"), false))

	err = svc.SetGroupActive(bob, "team", false)
	assert.ErrorIs(t, err, depot.ErrForbidden)

	require.NoError(t, svc.SetGroupActive(alice, "team", false))
	groups, err := svc.Groups(bob.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
