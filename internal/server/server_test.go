package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/ratelimit"
	"github.com/filedepot/filedepot/internal/store"
)

type testApp struct {
	app *App
	st  *store.Store
	h   http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default(t.TempDir())
	cfg.RootDir = t.TempDir()
	cfg.JWTSecret = "test-secret"
	cfg.BaseURL = "https://depot.test"
	cfg.RateLimitMax = 10000

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := NewApp(cfg, st, logger)
	return &testApp{app: app, st: st, h: app.Handler()}
}

func (ta *testApp) do(t *testing.T, method, target, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ta.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// signup registers, verifies and logs a user in, returning the bearer.
func (ta *testApp) signup(t *testing.T, username, email string) string {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": username, "email": email, "password": "swordfish123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	u, err := ta.st.GetUserByUsername(username)
	require.NoError(t, err)
	rec = ta.do(t, http.MethodPost, "/api/verify", "", map[string]string{
		"user": username, "code": u.VerificationCode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"user": username, "password": "swordfish123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[map[string]string](t, rec)["token"]
}

func (ta *testApp) upload(t *testing.T, bearer, folder, filename, content string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("folder", folder))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bearer)
	rec := httptest.NewRecorder()
	ta.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAuthFlow(t *testing.T) {
	ta := newTestApp(t)

	// Anonymous requests to guarded endpoints bounce.
	rec := ta.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bearer := ta.signup(t, "alice", "alice@example.com")

	rec = ta.do(t, http.MethodGet, "/api/me", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "alice", me["username"])

	// A garbage bearer reads as anonymous.
	rec = ta.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong method gets a 405 with an Allow header.
	rec = ta.do(t, http.MethodGet, "/api/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestRegisterValidation(t *testing.T) {
	ta := newTestApp(t)

	rec := ta.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": "alice", "email": "not-an-email", "password": "swordfish123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate registration maps to 409.
	ta.signup(t, "alice", "alice@example.com")
	rec = ta.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"username": "alice", "email": "alice2@example.com", "password": "swordfish123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadDownloadAndAccess(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	bob := ta.signup(t, "bob", "bob@example.com")

	ta.upload(t, alice, "alice/docs", "report.pdf", "report body")

	rec := ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report body", rec.Body.String())

	// bob has no grant yet.
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ta.do(t, http.MethodGet, "/api/access?path=alice/docs/report.pdf&op=read", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[map[string]any](t, rec)["allowed"].(bool))

	// Uploading into someone else's tree is refused.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("folder", "alice/docs"))
	fw, err := mw.CreateFormFile("file", "sneaky.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bob)
	rr := httptest.NewRecorder()
	ta.h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestShareFlow(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	bob := ta.signup(t, "bob", "bob@example.com")

	ta.upload(t, alice, "alice/docs", "report.pdf", "report body")

	rec := ta.do(t, http.MethodPost, "/api/share/grant", alice, map[string]string{
		"kind": "file", "path": "alice/docs/report.pdf", "target": "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Duplicate grant conflicts.
	rec = ta.do(t, http.MethodPost, "/api/share/grant", alice, map[string]string{
		"kind": "file", "path": "alice/docs/report.pdf", "target": "bob",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/access?path=alice/docs/report.pdf", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeBody[map[string]any](t, rec)
	assert.True(t, d["allowed"].(bool))
	assert.Equal(t, "direct_share", d["via"])

	rec = ta.do(t, http.MethodGet, "/api/shares/incoming", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "report.pdf")

	rec = ta.do(t, http.MethodPost, "/api/share/revoke", alice, map[string]string{
		"kind": "file", "path": "alice/docs/report.pdf", "target": "bob",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Revoking an absent share is a 404, and access is gone.
	rec = ta.do(t, http.MethodPost, "/api/share/revoke", alice, map[string]string{
		"kind": "file", "path": "alice/docs/report.pdf", "target": "bob",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQuickShareDownload(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")

	ta.upload(t, alice, "alice/docs", "report.pdf", "report body")

	rec := ta.do(t, http.MethodPost, "/api/quickshare", alice, map[string]string{
		"path": "alice/docs/report.pdf",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[map[string]any](t, rec)
	tok := created["token"].(string)
	assert.Equal(t, "https://depot.test/quick/"+tok, created["url"])

	// The link works without any credential, repeatedly.
	for i := 0; i < 2; i++ {
		rec = ta.do(t, http.MethodGet, "/quick/"+tok, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "report body", rec.Body.String())
	}

	rec = ta.do(t, http.MethodGet, "/quick/bogus", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The QR endpoint returns a PNG to the owner.
	rec = ta.do(t, http.MethodGet, "/api/quickshare/qr?token="+tok, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestQuickShareZipsFolders(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")

	ta.upload(t, alice, "alice/docs", "a.txt", "a")
	ta.upload(t, alice, "alice/docs", "b.txt", "b")

	// Quick-share the folder through a contained file's parent.
	ta.app.fs.EnsureDir("alice/docs")
	q, err := ta.app.tokens.CreateQuickShare(mustUser(t, ta.st, "alice"), "alice/docs")
	require.NoError(t, err)

	rec := ta.do(t, http.MethodGet, "/quick/"+q.Token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "docs.zip")
}

func mustUser(t *testing.T, st *store.Store, username string) store.User {
	t.Helper()
	u, err := st.GetUserByUsername(username)
	require.NoError(t, err)
	return u
}

func TestTokenIssueAntiEnumeration(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice", "alice@example.com")

	// Existing and unknown subjects get the same acceptance.
	for _, subject := range []string{"alice", "ghost@example.com"} {
		rec := ta.do(t, http.MethodPost, "/api/token/issue", "", map[string]string{
			"user": subject, "purpose": "password_reset",
		})
		assert.Equal(t, http.StatusAccepted, rec.Code, subject)
	}

	// An unknown purpose is rejected before issuance.
	rec := ta.do(t, http.MethodPost, "/api/token/issue", "", map[string]string{
		"user": "alice", "purpose": "coffee",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice", "alice@example.com")

	rec := ta.do(t, http.MethodPost, "/api/token/issue", "", map[string]string{
		"user": "alice", "purpose": "password_reset",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	u := mustUser(t, ta.st, "alice")
	et, err := ta.st.GetEphemeralTokenForUser(u.ID, depot.PurposePasswordReset)
	require.NoError(t, err)

	rec = ta.do(t, http.MethodPost, "/api/password/reset", "", map[string]string{
		"token": et.Token, "new_password": "betterpassword",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The token is single use.
	rec = ta.do(t, http.MethodPost, "/api/password/reset", "", map[string]string{
		"token": et.Token, "new_password": "anotherpassword",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Old password out, new password in.
	rec = ta.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"user": "alice", "password": "swordfish123",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ta.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"user": "alice", "password": "betterpassword",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountDeletionFlow(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	ta.upload(t, alice, "alice/docs", "report.pdf", "body")

	rec := ta.do(t, http.MethodPost, "/api/token/issue", "", map[string]string{
		"user": "alice", "purpose": "account_deletion",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	u := mustUser(t, ta.st, "alice")
	et, err := ta.st.GetEphemeralTokenForUser(u.ID, depot.PurposeAccountDeletion)
	require.NoError(t, err)

	rec = ta.do(t, http.MethodPost, "/api/account/delete", "", map[string]string{"token": et.Token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err = ta.st.GetUserByUsername("alice")
	assert.ErrorIs(t, err, depot.ErrNotFound)

	// The old bearer no longer resolves to an account.
	rec = ta.do(t, http.MethodGet, "/api/me", alice, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGroupEndpoints(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	bob := ta.signup(t, "bob", "bob@example.com")

	rec := ta.do(t, http.MethodPost, "/api/groups", alice, map[string]string{
		"name": "team", "description": "the team",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ta.do(t, http.MethodPost, "/api/groups/members/add", alice, map[string]any{
		"name": "team", "user": "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Non-admin bob cannot add members.
	rec = ta.do(t, http.MethodPost, "/api/groups/members/add", bob, map[string]any{
		"name": "team", "user": "alice",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(t, http.MethodGet, "/api/groups", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "team")

	// Share a folder with the group and read through it.
	ta.upload(t, alice, "alice/docs", "report.pdf", "body")
	rec = ta.do(t, http.MethodPost, "/api/share/grant", alice, map[string]string{
		"kind": "group_folder", "path": "alice/docs", "target": "team",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", bob, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Removing bob closes the group path.
	rec = ta.do(t, http.MethodPost, "/api/groups/members/remove", alice, map[string]any{
		"name": "team", "user": "bob",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFavoritesEndpoints(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	ta.upload(t, alice, "alice/docs", "report.pdf", "body")

	rec := ta.do(t, http.MethodPost, "/api/favorites/toggle", alice, map[string]string{
		"path": "alice/docs/report.pdf",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[map[string]bool](t, rec)["favorite"])

	rec = ta.do(t, http.MethodGet, "/api/favorites", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "report.pdf")

	rec = ta.do(t, http.MethodPost, "/api/favorites/toggle", alice, map[string]string{
		"path": "alice/docs/report.pdf",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[map[string]bool](t, rec)["favorite"])
}

func TestUploadRecordsPendingScan(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	ta.upload(t, alice, "alice/docs", "report.pdf", "body")

	rec := ta.do(t, http.MethodGet, "/api/scans?path=alice/docs/report.pdf", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending")
}

func TestRenameKeepsShares(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	bob := ta.signup(t, "bob", "bob@example.com")
	ta.upload(t, alice, "alice/docs", "report.pdf", "body")

	rec := ta.do(t, http.MethodPost, "/api/share/grant", alice, map[string]string{
		"kind": "file", "path": "alice/docs/report.pdf", "target": "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/rename", alice, map[string]string{
		"path": "alice/docs/report.pdf", "new_name": "report-final.pdf",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The grant follows the file to its new name.
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report-final.pdf", bob, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The old name is gone for the owner and ungranted for the recipient.
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuditShowsOnlyOwnTrail(t *testing.T) {
	ta := newTestApp(t)
	ta.signup(t, "alice", "alice@example.com")
	bobBearer := ta.signup(t, "bob", "bob@example.com")

	alice, err := ta.st.GetUserByUsername("alice")
	require.NoError(t, err)
	bob, err := ta.st.GetUserByUsername("bob")
	require.NoError(t, err)
	require.NoError(t, ta.st.RecordAudit(&alice.ID, "share.file.grant", "alice/docs/report.pdf", ""))
	require.NoError(t, ta.st.RecordAudit(&bob.ID, "share.file.grant", "bob/docs/own.txt", ""))

	rec := ta.do(t, http.MethodGet, "/api/audit", bobBearer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string][]store.AuditLog](t, rec)
	require.Len(t, body["audit"], 1)
	assert.Equal(t, bob.ID, *body["audit"][0].ActorUserID)
	assert.Equal(t, "bob/docs/own.txt", body["audit"][0].Target)
}

func TestAdmissionLimiter(t *testing.T) {
	ta := newTestApp(t)
	ta.app.admission = ratelimit.NewWindow(1, time.Minute)

	rec := ta.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ta.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAdmissionLimiterIgnoresForwardedForByDefault(t *testing.T) {
	ta := newTestApp(t)
	ta.app.admission = ratelimit.NewWindow(1, time.Minute)

	// Without a trusted proxy the client-sent header cannot mint fresh
	// limiter keys.
	for i, want := range []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		ta.h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}

func TestAdmissionLimiterHonorsForwardedForBehindProxy(t *testing.T) {
	ta := newTestApp(t)
	ta.app.cfg.TrustProxy = true
	ta.app.admission = ratelimit.NewWindow(1, time.Minute)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		ta.h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestDeleteFileEndpoint(t *testing.T) {
	ta := newTestApp(t)
	alice := ta.signup(t, "alice", "alice@example.com")
	bob := ta.signup(t, "bob", "bob@example.com")
	ta.upload(t, alice, "alice/docs", "report.pdf", "body")

	// Only the owner may delete, even with a read grant.
	rec := ta.do(t, http.MethodPost, "/api/share/grant", alice, map[string]string{
		"kind": "file", "path": "alice/docs/report.pdf", "target": "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ta.do(t, http.MethodPost, "/api/delete", bob, map[string]string{"path": "alice/docs/report.pdf"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/delete", alice, map[string]string{"path": "alice/docs/report.pdf"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ta.do(t, http.MethodGet, "/api/download?path=alice/docs/report.pdf", alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
