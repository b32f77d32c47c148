package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/filedepot/filedepot/internal/access"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/util"
)

func (a *App) handleResolveAccess(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	op := access.Operation(r.URL.Query().Get("op"))
	if op == "" {
		op = access.OpRead
	}
	d, err := a.resolver.Resolve(*user, r.URL.Query().Get("path"), op)
	if err != nil {
		if errors.Is(err, depot.ErrForbidden) {
			a.writeJSON(w, http.StatusOK, access.Decision{})
			return
		}
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, d)
}

func (a *App) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	folder := util.NormalizeRelPath(r.URL.Query().Get("folder"))
	if folder == "" {
		folder = user.Username
	}
	owner, folderName, _, err := a.resolver.ResolveFolder(*user, folder)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	files, err := a.store.ListFilesInFolder(owner.ID, folderName)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"folder": folderName, "files": files})
}

// handleUpload stores multipart bytes under the actor's own tree and
// registers the file. Uploading into another user's tree is refused even
// when a share grants read access.
func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	folder := util.NormalizeRelPath(r.FormValue("folder"))
	if folder == "" {
		folder = user.Username
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer part.Close()
	filename := path.Base(util.NormalizeRelPath(header.Filename))
	if filename == "" || filename == "." {
		a.writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	d, err := a.resolver.Resolve(*user, folder+"/"+filename, access.OpWrite)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if d.Via != access.ViaOwnership {
		a.writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	owner, folderName, _, err := a.resolver.OwnerAndFolder(folder + "/" + filename)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	if err := a.fs.EnsureDir(folderName); err != nil {
		a.writeServiceError(w, err)
		return
	}
	abs, err := a.fs.Resolve(folderName + "/" + filename)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	dst, err := os.Create(abs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hasher), part)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(abs)
		a.writeServiceError(w, err)
		return
	}

	id, err := a.store.UpsertFile(store.File{
		UserID:      owner.ID,
		FolderName:  folderName,
		Filename:    filename,
		SizeBytes:   size,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := a.store.RecordFileScan(id, owner.ID, store.ScanPending); err != nil {
		a.logger.Warn("scan record failed", "file", folderName+"/"+filename, "error", err)
	}

	a.writeJSON(w, http.StatusCreated, map[string]any{
		"path": folderName + "/" + filename,
		"size": size,
	})
}

func (a *App) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	resourcePath := r.URL.Query().Get("path")
	if _, err := a.resolver.Resolve(*user, resourcePath, access.OpRead); err != nil {
		a.writeServiceError(w, err)
		return
	}
	owner, folderName, filename, err := a.resolver.OwnerAndFolder(resourcePath)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if _, err := a.store.GetFile(owner.ID, folderName, filename); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.serveFile(w, r, folderName+"/"+filename, filename)
}

func (a *App) serveFile(w http.ResponseWriter, r *http.Request, rel, downloadName string) {
	abs, err := a.fs.Resolve(rel)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		a.logger.Warn("registry row without bytes", "path", rel)
		a.writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		a.writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(downloadName))
	http.ServeContent(w, r, downloadName, info.ModTime(), f)
}

type renameRequest struct {
	Path    string `json:"path" validate:"required"`
	NewName string `json:"new_name" validate:"required,max=255"`
}

// handleRename renames a file in place. Share edges key on the file id,
// so existing grants keep resolving after the rename.
func (a *App) handleRename(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req renameRequest
	if !a.decode(w, r, &req) {
		return
	}
	newName := path.Base(util.NormalizeRelPath(req.NewName))
	if newName == "" || newName == "." {
		a.writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	d, err := a.resolver.Resolve(*user, req.Path, access.OpWrite)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if d.Via != access.ViaOwnership {
		a.writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	owner, folderName, filename, err := a.resolver.OwnerAndFolder(req.Path)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	file, err := a.store.GetFile(owner.ID, folderName, filename)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	oldAbs, err := a.fs.Resolve(file.Path())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	newAbs, err := a.fs.Resolve(folderName + "/" + newName)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := a.store.RenameFile(file.ID, folderName, newName); err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		// Roll the row back so registry and disk stay in step.
		if rbErr := a.store.RenameFile(file.ID, folderName, filename); rbErr != nil {
			a.logger.Error("rename rollback failed", "path", file.Path(), "error", rbErr)
		}
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"path": folderName + "/" + newName})
}

type deleteRequest struct {
	Path string `json:"path" validate:"required"`
}

func (a *App) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req deleteRequest
	if !a.decode(w, r, &req) {
		return
	}
	d, err := a.resolver.Resolve(*user, req.Path, access.OpDelete)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if d.Via != access.ViaOwnership {
		a.writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	owner, folderName, filename, err := a.resolver.OwnerAndFolder(req.Path)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	file, err := a.store.GetFile(owner.ID, folderName, filename)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if err := a.deleter.DeleteFile(file); err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *App) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	files, err := a.store.ListFavorites(user.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"favorites": files})
}

type favoriteRequest struct {
	Path string `json:"path" validate:"required"`
}

func (a *App) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodPost) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	var req favoriteRequest
	if !a.decode(w, r, &req) {
		return
	}
	if _, err := a.resolver.Resolve(*user, req.Path, access.OpRead); err != nil {
		a.writeServiceError(w, err)
		return
	}
	owner, folderName, filename, err := a.resolver.OwnerAndFolder(req.Path)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	file, err := a.store.GetFile(owner.ID, folderName, filename)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	on, err := a.store.ToggleFavorite(user.ID, file.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"favorite": on})
}

func (a *App) handleScans(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	resourcePath := r.URL.Query().Get("path")
	if _, err := a.resolver.Resolve(*user, resourcePath, access.OpRead); err != nil {
		a.writeServiceError(w, err)
		return
	}
	owner, folderName, filename, err := a.resolver.OwnerAndFolder(resourcePath)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	file, err := a.store.GetFile(owner.ID, folderName, filename)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	scans, err := a.store.ListFileScans(file.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

func (a *App) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !a.enforceMethod(w, r, http.MethodGet) {
		return
	}
	user := a.requireUser(w, r)
	if user == nil {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	// Users see their own trail only; the full log is an operator view.
	rows, err := a.store.ListAuditForActor(user.ID, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"audit": rows})
}
