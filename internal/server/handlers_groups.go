package server

import (
	"net/http"

	"github.com/filedepot/filedepot/internal/depot"
)

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=500"`
}

// handleGroups lists the actor's groups on GET and creates one on POST.
func (a *App) handleGroups(w http.ResponseWriter, r *http.Request) {
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	switch r.Method {
	case http.MethodGet:
		groups, err := a.users.Groups(user.ID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	case http.MethodPost:
		var req createGroupRequest
		if !a.decode(w, r, &req) {
			return
		}
		group, err := a.users.CreateGroup(*user, req.Name, req.Description)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		a.writeJSON(w, http.StatusCreated, group)
	default:
		w.Header().Set("Allow", "GET, POST")
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type groupNameRequest struct {
	Name string `json:"name" validate:"required"`
}

func (a *App) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req groupNameRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.deleter.DeleteGroup(*user, req.Name); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type groupActiveRequest struct {
	Name   string `json:"name" validate:"required"`
	Active *bool  `json:"active" validate:"required"`
}

func (a *App) handleGroupActive(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req groupActiveRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.users.SetGroupActive(*user, req.Name, *req.Active); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"active": *req.Active})
}

func (a *App) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	members, err := a.users.Members(*user, r.URL.Query().Get("name"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

type memberRequest struct {
	Name  string `json:"name" validate:"required"`
	User  string `json:"user" validate:"required"`
	Admin bool   `json:"admin"`
}

func (a *App) handleAddMember(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.users.AddMember(*user, req.Name, depot.ParseUserRef(req.User), req.Admin); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{"added": true})
}

func (a *App) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.users.RemoveMember(*user, req.Name, depot.ParseUserRef(req.User)); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (a *App) handleMemberRole(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req memberRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.users.SetMemberAdmin(*user, req.Name, depot.ParseUserRef(req.User), req.Admin); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"admin": req.Admin})
}
