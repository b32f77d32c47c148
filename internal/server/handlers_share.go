package server

import (
	"archive/zip"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/util"
)

type shareRequest struct {
	Kind string `json:"kind" validate:"required,oneof=file folder group_file group_folder"`
	Path string `json:"path" validate:"required"`
	// Target is a username or email for direct shares, a group name for
	// group shares.
	Target string `json:"target" validate:"required"`
}

func (a *App) handleGrantShare(w http.ResponseWriter, r *http.Request) {
	a.handleShareEdge(w, r, true)
}

func (a *App) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	a.handleShareEdge(w, r, false)
}

func (a *App) handleShareEdge(w http.ResponseWriter, r *http.Request, grant bool) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req shareRequest
	if !a.decode(w, r, &req) {
		return
	}

	var err error
	switch req.Kind {
	case "file":
		if grant {
			err = a.shares.GrantFile(*user, req.Path, depot.ParseUserRef(req.Target))
		} else {
			err = a.shares.RevokeFile(*user, req.Path, depot.ParseUserRef(req.Target))
		}
	case "folder":
		if grant {
			err = a.shares.GrantFolder(*user, req.Path, depot.ParseUserRef(req.Target))
		} else {
			err = a.shares.RevokeFolder(*user, req.Path, depot.ParseUserRef(req.Target))
		}
	case "group_file":
		if grant {
			err = a.shares.GrantFileToGroup(*user, req.Path, req.Target)
		} else {
			err = a.shares.RevokeFileFromGroup(*user, req.Path, req.Target)
		}
	case "group_folder":
		if grant {
			err = a.shares.GrantFolderToGroup(*user, req.Path, req.Target)
		} else {
			err = a.shares.RevokeFolderFromGroup(*user, req.Path, req.Target)
		}
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if grant {
		status = http.StatusCreated
	}
	a.writeJSON(w, status, map[string]any{"ok": true})
}

func (a *App) handleIncomingShares(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	views, err := a.shares.Incoming(user.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"shares": views})
}

func (a *App) handleOutgoingShares(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	views, err := a.shares.Outgoing(user.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"shares": views})
}

type quickShareRequest struct {
	Path string `json:"path" validate:"required"`
}

func (a *App) handleCreateQuickShare(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req quickShareRequest
	if !a.decode(w, r, &req) {
		return
	}
	q, err := a.tokens.CreateQuickShare(*user, req.Path)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, map[string]any{
		"token":      q.Token,
		"url":        a.tokens.QuickShareURL(q.Token),
		"expires_at": q.ExpiresAt,
	})
}

// handleQuickShareQR renders the quick-share link as a PNG QR code.
func (a *App) handleQuickShareQR(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	tok := r.URL.Query().Get("token")
	q, err := a.tokens.ResolveQuickShare(tok)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if q.UserID != user.ID {
		a.writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	png, err := util.QRPNG(a.tokens.QuickShareURL(q.Token), 256)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// handleQuickDownload serves a quick-shared resource to anyone holding
// the link. The token is the credential; no login is required. Folder
// targets stream as a zip archive.
func (a *App) handleQuickDownload(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	tok := strings.TrimPrefix(r.URL.Path, "/quick/")
	if tok == "" || strings.Contains(tok, "/") {
		a.writeError(w, http.StatusNotFound, "not found")
		return
	}
	q, err := a.tokens.ResolveQuickShare(tok)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	rel := util.NormalizeRelPath(q.FilePath)
	if a.fs.IsDir(rel) {
		a.serveZip(w, rel)
		return
	}
	a.serveFile(w, r, rel, path.Base(rel))
}

func (a *App) serveZip(w http.ResponseWriter, rel string) {
	abs, err := a.fs.Resolve(rel)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	zipName := path.Base(rel) + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+zipName+"\"")

	zw := zip.NewWriter(w)
	defer zw.Close()

	err = filepath.WalkDir(abs, func(curr string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if curr == abs || d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(abs, curr)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(relPath)
		hdr.Method = zip.Deflate
		writer, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(curr)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(writer, f)
		return err
	})
	if err != nil {
		a.logger.Error("zip stream failed", "path", rel, "error", err)
	}
}
