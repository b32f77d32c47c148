// Package token issues and redeems short-lived tokens: single-use
// account tokens delivered by mail, and repeatable quick-share links.
package token

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/access"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/mail"
	"github.com/filedepot/filedepot/internal/ratelimit"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/util"
)

const tokenBytes = 32

// Ledger hands out ephemeral tokens. At most one live token exists per
// user and purpose; issuing again replaces the previous one.
type Ledger struct {
	store    *store.Store
	resolver *access.Resolver
	sender   mail.Sender
	limiter  *ratelimit.Window
	log      *slog.Logger

	tokenTTL time.Duration
	quickTTL time.Duration
	baseURL  string
}

type Config struct {
	TokenTTL time.Duration
	QuickTTL time.Duration
	// BaseURL prefixes the links placed in outbound mail.
	BaseURL string
	// RateMax and RateWindow bound token issuance per subject.
	RateMax    int
	RateWindow time.Duration
}

func NewLedger(st *store.Store, resolver *access.Resolver, sender mail.Sender, cfg Config, log *slog.Logger) *Ledger {
	return &Ledger{
		store:    st,
		resolver: resolver,
		sender:   sender,
		limiter:  ratelimit.NewWindow(cfg.RateMax, cfg.RateWindow),
		log:      log,
		tokenTTL: cfg.TokenTTL,
		quickTTL: cfg.QuickTTL,
		baseURL:  cfg.BaseURL,
	}
}

// Issue mints a token for the given purpose and mails it to the subject.
// A token already live for the same purpose is overwritten. Issuance is
// rate limited per subject; over the limit the caller gets ErrRateLimited
// so the transport can decide how much to reveal.
//
// The limit is charged twice: on the raw subject before the lookup, so
// probes for unknown accounts still spend budget, and on the account's
// email after it, so a username and an email naming the same account
// draw from one budget.
func (l *Ledger) Issue(subject depot.UserRef, purpose depot.TokenPurpose) error {
	if !purpose.Valid() {
		return fmt.Errorf("purpose %q: %w", purpose, depot.ErrInvalidToken)
	}
	if !l.limiter.Allow(subject.Value) {
		return fmt.Errorf("token issue for %s: %w", subject.Value, depot.ErrRateLimited)
	}
	user, err := l.store.GetUserByRef(subject)
	if err != nil {
		return fmt.Errorf("token subject %s: %w", subject.Value, err)
	}
	if canonical := strings.ToLower(user.Email); canonical != subject.Value {
		if !l.limiter.Allow(canonical) {
			return fmt.Errorf("token issue for %s: %w", subject.Value, depot.ErrRateLimited)
		}
	}

	tok, err := util.RandomToken(tokenBytes)
	if err != nil {
		return err
	}
	expires := time.Now().UTC().Add(l.tokenTTL)
	if err := l.store.UpsertEphemeralToken(user.ID, purpose, tok, expires); err != nil {
		return err
	}

	if err := l.sender.Send(user.Email, mailSubject(purpose), mailBody(l.baseURL, purpose, tok)); err != nil {
		// The token stays valid; delivery can be retried by reissuing.
		l.log.Error("token mail delivery failed", "user", user.Username, "purpose", string(purpose), "error", err)
		return err
	}
	l.log.Info("token issued", "user", user.Username, "purpose", string(purpose))
	return nil
}

// Validate checks the token exists for the purpose and has not expired.
// The token stays live.
func (l *Ledger) Validate(tok string, purpose depot.TokenPurpose) (store.EphemeralToken, error) {
	et, err := l.store.GetEphemeralToken(tok, purpose)
	if err != nil {
		return store.EphemeralToken{}, fmt.Errorf("validate token: %w", depot.ErrInvalidToken)
	}
	if time.Now().UTC().After(et.ExpiresAt) {
		return store.EphemeralToken{}, fmt.Errorf("token expired: %w", depot.ErrInvalidToken)
	}
	return et, nil
}

// Consume validates the token and retires it. Exactly one caller can win
// a given token; the delete is the arbiter under concurrency.
func (l *Ledger) Consume(tok string, purpose depot.TokenPurpose) (store.EphemeralToken, error) {
	et, err := l.Validate(tok, purpose)
	if err != nil {
		return store.EphemeralToken{}, err
	}
	if err := l.store.DeleteEphemeralToken(tok); err != nil {
		return store.EphemeralToken{}, fmt.Errorf("consume token: %w", depot.ErrInvalidToken)
	}
	return et, nil
}

// CreateQuickShare mints an unauthenticated download link for a resource
// the actor can access. The link is repeatable until it expires.
func (l *Ledger) CreateQuickShare(actor store.User, resourcePath string) (store.QuickShare, error) {
	if _, err := l.resolver.Resolve(actor, resourcePath, access.OpRead); err != nil {
		return store.QuickShare{}, err
	}
	tok, err := util.RandomToken(tokenBytes)
	if err != nil {
		return store.QuickShare{}, err
	}
	q := store.QuickShare{
		Token:     tok,
		UserID:    actor.ID,
		FilePath:  resourcePath,
		ExpiresAt: time.Now().UTC().Add(l.quickTTL),
	}
	if err := l.store.CreateQuickShare(q); err != nil {
		return store.QuickShare{}, err
	}
	l.log.Info("quick share created", "user", actor.Username, "path", resourcePath)
	return q, nil
}

// ResolveQuickShare returns the live quick share for the token and stamps
// the access time. Expired links read as invalid, not expired, so the
// token's prior existence is not disclosed.
func (l *Ledger) ResolveQuickShare(tok string) (store.QuickShare, error) {
	q, err := l.store.GetQuickShare(tok)
	if err != nil {
		return store.QuickShare{}, fmt.Errorf("quick share: %w", depot.ErrInvalidToken)
	}
	if time.Now().UTC().After(q.ExpiresAt) {
		return store.QuickShare{}, fmt.Errorf("quick share expired: %w", depot.ErrInvalidToken)
	}
	if err := l.store.MarkQuickShareAccessed(tok); err != nil {
		l.log.Warn("quick share touch failed", "error", err)
	}
	return q, nil
}

// QuickShareURL is the public link for a quick-share token.
func (l *Ledger) QuickShareURL(tok string) string {
	return l.baseURL + "/quick/" + tok
}

// Sweep purges expired tokens and quick shares and trims limiter state.
func (l *Ledger) Sweep() {
	now := time.Now().UTC()
	if n, err := l.store.PurgeExpiredTokens(now); err != nil {
		l.log.Error("token purge failed", "error", err)
	} else if n > 0 {
		l.log.Info("purged expired tokens", "count", n)
	}
	if n, err := l.store.PurgeExpiredQuickShares(now); err != nil {
		l.log.Error("quick share purge failed", "error", err)
	} else if n > 0 {
		l.log.Info("purged expired quick shares", "count", n)
	}
	l.limiter.Sweep()
}

// RunSweeper purges on the given interval until stop is closed.
func (l *Ledger) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.Sweep()
		case <-stop:
			return
		}
	}
}

func mailSubject(purpose depot.TokenPurpose) string {
	switch purpose {
	case depot.PurposePasswordReset:
		return "Password reset"
	case depot.PurposeAccountDeletion:
		return "Confirm account deletion"
	}
	return "Your token"
}

func mailBody(baseURL string, purpose depot.TokenPurpose, tok string) string {
	switch purpose {
	case depot.PurposePasswordReset:
		return fmt.Sprintf("Use this link within the hour to reset your password:\r\n%s/reset?token=%s\r\n", baseURL, tok)
	case depot.PurposeAccountDeletion:
		return fmt.Sprintf("Confirm deletion of your account within the hour:\r\n%s/delete-account?token=%s\r\nIf you did not request this, ignore this message.\r\n", baseURL, tok)
	}
	return fmt.Sprintf("Your token: %s\r\n", tok)
}
