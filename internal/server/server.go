// Package server exposes the depot's operations over HTTP as a thin
// JSON layer. Access decisions, share bookkeeping and deletions all live
// in the services; handlers translate requests and error kinds only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/access"
	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/cascade"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/fsops"
	"github.com/filedepot/filedepot/internal/identity"
	"github.com/filedepot/filedepot/internal/mail"
	"github.com/filedepot/filedepot/internal/ratelimit"
	"github.com/filedepot/filedepot/internal/share"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/token"
)

const (
	sessionTTL      = 12 * time.Hour
	sweepInterval   = time.Hour
	maxUploadBytes  = 1 << 30
	maxJSONBodySize = 1 << 20
)

type ctxKey string

const (
	ctxPrincipalKey ctxKey = "principal"
	ctxRequestIDKey ctxKey = "request_id"
)

type App struct {
	cfg       config.Config
	store     *store.Store
	fs        *fsops.FS
	logger    *slog.Logger
	validate  *validator.Validate
	admission *ratelimit.Window

	resolver *access.Resolver
	shares   *share.Registry
	tokens   *token.Ledger
	deleter  *cascade.Coordinator
	users    *identity.Service

	jwtSecret []byte
}

// NewApp wires the services on top of an open store. Callers own the
// store's lifetime.
func NewApp(cfg config.Config, st *store.Store, logger *slog.Logger) *App {
	fs := fsops.New(cfg.RootDir)
	resolver := access.NewResolver(st, logger)

	var sender mail.Sender
	if cfg.SMTP.Host != "" {
		sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
	} else {
		logger.Warn("no smtp relay configured; mail goes to the log")
		sender = &mail.LogSender{Log: logger}
	}

	ledger := token.NewLedger(st, resolver, sender, token.Config{
		TokenTTL:   config.Duration(cfg.TokenTTL, time.Hour),
		QuickTTL:   config.Duration(cfg.QuickShareExpiry, 24*time.Hour),
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		RateMax:    3,
		RateWindow: time.Hour,
	}, logger)

	return &App{
		cfg:       cfg,
		store:     st,
		fs:        fs,
		logger:    logger,
		validate:  validator.New(),
		admission: ratelimit.NewWindow(cfg.RateLimitMax, config.Duration(cfg.RateLimitWindow, time.Minute)),
		resolver:  resolver,
		shares:    share.NewRegistry(st, fs, resolver, logger),
		tokens:    ledger,
		deleter:   cascade.NewCoordinator(st, fs, logger),
		users:     identity.NewService(st, fs, sender, logger),
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

// Run opens the store, wires the app and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is not set; run `filedepot init` first")
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	handlerLevel := new(slog.LevelVar)
	handlerLevel.Set(parseLogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: handlerLevel}))

	app := NewApp(cfg, st, logger)
	if err := app.fs.EnsureDir(""); err != nil {
		return err
	}

	stopSweeper := make(chan struct{})
	defer close(stopSweeper)
	go app.tokens.RunSweeper(sweepInterval, stopSweeper)

	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	logger.Info("listening", "addr", addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler builds the route table and middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/register", a.handleRegister)
	mux.HandleFunc("/api/verify", a.handleVerify)
	mux.HandleFunc("/api/login", a.handleLogin)
	mux.HandleFunc("/api/me", a.handleMe)
	mux.HandleFunc("/api/token/issue", a.handleIssueToken)
	mux.HandleFunc("/api/password/reset", a.handlePasswordReset)
	mux.HandleFunc("/api/account/delete", a.handleAccountDelete)

	mux.HandleFunc("/api/access", a.handleResolveAccess)
	mux.HandleFunc("/api/files", a.handleListFiles)
	mux.HandleFunc("/api/upload", a.handleUpload)
	mux.HandleFunc("/api/download", a.handleDownload)
	mux.HandleFunc("/api/rename", a.handleRename)
	mux.HandleFunc("/api/delete", a.handleDeleteFile)
	mux.HandleFunc("/api/favorites", a.handleFavorites)
	mux.HandleFunc("/api/favorites/toggle", a.handleToggleFavorite)
	mux.HandleFunc("/api/scans", a.handleScans)
	mux.HandleFunc("/api/audit", a.handleAudit)

	mux.HandleFunc("/api/share/grant", a.handleGrantShare)
	mux.HandleFunc("/api/share/revoke", a.handleRevokeShare)
	mux.HandleFunc("/api/shares/incoming", a.handleIncomingShares)
	mux.HandleFunc("/api/shares/outgoing", a.handleOutgoingShares)
	mux.HandleFunc("/api/quickshare", a.handleCreateQuickShare)
	mux.HandleFunc("/api/quickshare/qr", a.handleQuickShareQR)
	mux.HandleFunc("/quick/", a.handleQuickDownload)

	mux.HandleFunc("/api/groups", a.handleGroups)
	mux.HandleFunc("/api/groups/delete", a.handleDeleteGroup)
	mux.HandleFunc("/api/groups/active", a.handleGroupActive)
	mux.HandleFunc("/api/groups/members", a.handleGroupMembers)
	mux.HandleFunc("/api/groups/members/add", a.handleAddMember)
	mux.HandleFunc("/api/groups/members/remove", a.handleRemoveMember)
	mux.HandleFunc("/api/groups/members/role", a.handleMemberRole)

	return a.recoverer(a.securityHeaders(a.requestID(a.admissionLimit(a.authenticate(mux)))))
}

func (a *App) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (a *App) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *App) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxRequestIDKey, id)
		a.logger.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path, "ip", a.remoteIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *App) admissionLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.admission.Allow(a.remoteIP(r)) {
			a.writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer credential into a Principal. Missing
// or bad credentials leave the request anonymous; handlers that need an
// actor call requireUser.
func (a *App) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
			p, err := auth.VerifyToken(strings.TrimSpace(rest), a.jwtSecret)
			if err == nil {
				ctx := context.WithValue(r.Context(), ctxPrincipalKey, p)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			a.logger.Debug("bearer rejected", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser loads the full user row for the request's principal. The
// nil return means the response has already been written.
func (a *App) requireUser(w http.ResponseWriter, r *http.Request) *store.User {
	v := r.Context().Value(ctxPrincipalKey)
	p, ok := v.(auth.Principal)
	if !ok {
		a.writeError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	user, err := a.store.GetUserByID(p.UserID)
	if err != nil || user.Disabled {
		a.writeError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	return &user
}

func (a *App) enforceMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// decode reads a JSON body into dst and runs its validation tags.
func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("field %s failed %s validation", strings.ToLower(f.Field()), f.Tag())
	}
	return "invalid request"
}

// remoteIP reads X-Forwarded-For only when the deployment declares a
// trusted proxy in front; anyone can send the header otherwise.
func (a *App) remoteIP(r *http.Request) string {
	if a.cfg.TrustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			parts := strings.Split(fwd, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseLogLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (a *App) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *App) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]any{"error": message})
}

// writeServiceError maps the depot error kinds onto HTTP statuses.
func (a *App) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, depot.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, depot.ErrConflict):
		a.writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, depot.ErrForbidden):
		a.writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, depot.ErrInvalidToken):
		a.writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, depot.ErrRateLimited):
		a.writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, depot.ErrInvalidPath):
		a.writeError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, depot.ErrInvalidArgument):
		a.writeError(w, http.StatusBadRequest, "invalid argument")
	default:
		a.logger.Error("request failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
