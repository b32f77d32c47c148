package server

import (
	"net/http"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/depot"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.users.Register(req.Username, req.Email, req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{
		"username": user.Username,
		"email":    user.Email,
		"verified": user.Verified,
	})
}

type verifyRequest struct {
	User string `json:"user" validate:"required"`
	Code string `json:"code" validate:"required,len=6"`
}

func (a *App) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	var req verifyRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.users.Verify(depot.ParseUserRef(req.User), req.Code); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

type loginRequest struct {
	User     string `json:"user" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.users.Authenticate(depot.ParseUserRef(req.User), req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	bearer, err := auth.IssueToken(auth.Principal{UserID: user.ID, Username: user.Username}, a.jwtSecret, sessionTTL)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"token":    bearer,
		"username": user.Username,
	})
}

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	a.writeJSON(w, http.StatusOK, user)
}

type issueTokenRequest struct {
	User    string `json:"user" validate:"required"`
	Purpose string `json:"purpose" validate:"required,oneof=password_reset account_deletion"`
}

// handleIssueToken always reports acceptance for a well-formed request,
// whether or not the subject exists, so account existence cannot be
// probed through this endpoint.
func (a *App) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	var req issueTokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.tokens.Issue(depot.ParseUserRef(req.User), depot.TokenPurpose(req.Purpose))
	if err != nil {
		a.logger.Info("token issue suppressed", "purpose", req.Purpose, "error", err)
	}
	a.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

type passwordResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (a *App) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	var req passwordResetRequest
	if !a.decode(w, r, &req) {
		return
	}
	et, err := a.tokens.Consume(req.Token, depot.PurposePasswordReset)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := a.users.SetPassword(et.UserID, req.NewPassword); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

type accountDeleteRequest struct {
	Token string `json:"token" validate:"required"`
}

func (a *App) handleAccountDelete(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	var req accountDeleteRequest
	if !a.decode(w, r, &req) {
		return
	}
	et, err := a.tokens.Consume(req.Token, depot.PurposeAccountDeletion)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	user, err := a.store.GetUserByID(et.UserID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := a.deleter.DeleteUser(user); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
