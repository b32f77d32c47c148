package token

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/internal/access"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/store"
)

// captureSender records outbound mail instead of delivering it.
type captureSender struct {
	mu   sync.Mutex
	sent []struct{ To, Subject, Body string }
}

func (c *captureSender) Send(to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, struct{ To, Subject, Body string }{to, subject, body})
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newLedger(t *testing.T) (*Ledger, *store.Store, *captureSender, store.User) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &captureSender{}
	l := NewLedger(st, access.NewResolver(st, log), sender, Config{
		TokenTTL:   time.Hour,
		QuickTTL:   24 * time.Hour,
		BaseURL:    "https://depot.test",
		RateMax:    3,
		RateWindow: time.Hour,
	}, log)

	_, err = st.CreateUser("alice", "alice@example.com", "x", "000000")
	require.NoError(t, err)
	alice, err := st.GetUserByUsername("alice")
	require.NoError(t, err)
	return l, st, sender, alice
}

func issuedToken(t *testing.T, st *store.Store, userID int64, purpose depot.TokenPurpose) string {
	t.Helper()
	tok, err := st.GetEphemeralTokenForUser(userID, purpose)
	require.NoError(t, err)
	return tok.Token
}

func TestIssueAndConsume(t *testing.T) {
	l, st, sender, alice := newLedger(t)

	require.NoError(t, l.Issue(depot.ParseUserRef("alice@example.com"), depot.PurposePasswordReset))
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, "alice@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Body, "https://depot.test/reset?token=")

	tok := issuedToken(t, st, alice.ID, depot.PurposePasswordReset)

	// Validation leaves the token live.
	_, err := l.Validate(tok, depot.PurposePasswordReset)
	require.NoError(t, err)
	_, err = l.Validate(tok, depot.PurposePasswordReset)
	require.NoError(t, err)

	// A token is bound to its purpose.
	_, err = l.Validate(tok, depot.PurposeAccountDeletion)
	assert.ErrorIs(t, err, depot.ErrInvalidToken)

	// Consumption retires it.
	et, err := l.Consume(tok, depot.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, et.UserID)
	_, err = l.Consume(tok, depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrInvalidToken)
}

func TestIssueReplacesPrevious(t *testing.T) {
	l, st, _, alice := newLedger(t)

	require.NoError(t, l.Issue(depot.ParseUserRef("alice"), depot.PurposePasswordReset))
	first := issuedToken(t, st, alice.ID, depot.PurposePasswordReset)
	require.NoError(t, l.Issue(depot.ParseUserRef("alice"), depot.PurposePasswordReset))
	second := issuedToken(t, st, alice.ID, depot.PurposePasswordReset)
	require.NotEqual(t, first, second)

	_, err := l.Validate(first, depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrInvalidToken)
	_, err = l.Validate(second, depot.PurposePasswordReset)
	assert.NoError(t, err)
}

func TestIssueRateLimit(t *testing.T) {
	l, _, sender, _ := newLedger(t)

	ref := depot.ParseUserRef("alice")
	require.NoError(t, l.Issue(ref, depot.PurposePasswordReset))
	require.NoError(t, l.Issue(ref, depot.PurposePasswordReset))
	require.NoError(t, l.Issue(ref, depot.PurposePasswordReset))

	err := l.Issue(ref, depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrRateLimited)
	assert.Equal(t, 3, sender.count())

	// The limit is per subject.
	err = l.Issue(depot.ParseUserRef("nobody"), depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrNotFound)
}

func TestIssueRateLimitSpansIdentifiers(t *testing.T) {
	l, _, sender, _ := newLedger(t)

	// Username and email name the same account and share one budget.
	require.NoError(t, l.Issue(depot.ParseUserRef("alice"), depot.PurposePasswordReset))
	require.NoError(t, l.Issue(depot.ParseUserRef("alice"), depot.PurposePasswordReset))
	require.NoError(t, l.Issue(depot.ParseUserRef("alice"), depot.PurposePasswordReset))

	err := l.Issue(depot.ParseUserRef("alice@example.com"), depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrRateLimited)
	assert.Equal(t, 3, sender.count())
}

func TestIssueUnknownSubjectCountsAgainstLimit(t *testing.T) {
	l, _, sender, _ := newLedger(t)

	ref := depot.ParseUserRef("ghost@example.com")
	for i := 0; i < 3; i++ {
		err := l.Issue(ref, depot.PurposePasswordReset)
		assert.ErrorIs(t, err, depot.ErrNotFound)
	}
	err := l.Issue(ref, depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrRateLimited)
	assert.Equal(t, 0, sender.count())
}

func TestQuickShareLifecycle(t *testing.T) {
	l, st, _, alice := newLedger(t)
	_, err := st.UpsertFile(store.File{UserID: alice.ID, FolderName: "alice/docs", Filename: "report.pdf"})
	require.NoError(t, err)

	q, err := l.CreateQuickShare(alice, "alice/docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://depot.test/quick/"+q.Token, l.QuickShareURL(q.Token))

	// Repeatable until expiry.
	for i := 0; i < 3; i++ {
		got, err := l.ResolveQuickShare(q.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice/docs/report.pdf", got.FilePath)
	}
	got, err := st.GetQuickShare(q.Token)
	require.NoError(t, err)
	assert.NotNil(t, got.LastAccessed)

	_, err = l.ResolveQuickShare("no-such-token")
	assert.ErrorIs(t, err, depot.ErrInvalidToken)
}

func TestQuickShareRequiresAccess(t *testing.T) {
	l, st, _, _ := newLedger(t)
	_, err := st.CreateUser("bob", "bob@example.com", "x", "000000")
	require.NoError(t, err)
	bob, err := st.GetUserByUsername("bob")
	require.NoError(t, err)

	_, err = l.CreateQuickShare(bob, "alice/docs/report.pdf")
	assert.ErrorIs(t, err, depot.ErrForbidden)
}

func TestSweepPurgesExpired(t *testing.T) {
	l, st, _, alice := newLedger(t)

	require.NoError(t, st.UpsertEphemeralToken(alice.ID, depot.PurposePasswordReset, "stale", time.Now().UTC().Add(-time.Minute)))
	require.NoError(t, st.CreateQuickShare(store.QuickShare{
		Token:     "stale-qs",
		UserID:    alice.ID,
		FilePath:  "alice/docs/report.pdf",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	l.Sweep()

	_, err := st.GetEphemeralToken("stale", depot.PurposePasswordReset)
	assert.ErrorIs(t, err, depot.ErrNotFound)
	_, err = st.GetQuickShare("stale-qs")
	assert.ErrorIs(t, err, depot.ErrNotFound)
}
