// Package share grants and revokes access edges between users, groups,
// files and folders, and materializes per-user copies for direct shares.
package share

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/filedepot/filedepot/internal/access"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/fsops"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/util"
)

// Registry owns the share tables and the materialized copies under each
// recipient's shared/ folder. Group shares create edge rows only; direct
// shares additionally snapshot the bytes so later changes by the owner do
// not leak to recipients.
type Registry struct {
	store    *store.Store
	fs       *fsops.FS
	resolver *access.Resolver
	log      *slog.Logger
}

func NewRegistry(st *store.Store, fs *fsops.FS, resolver *access.Resolver, log *slog.Logger) *Registry {
	return &Registry{store: st, fs: fs, resolver: resolver, log: log}
}

// sharedFolderOf is the recipient-side folder that holds materialized copies.
func sharedFolderOf(username string) string {
	return username + "/shared"
}

// GrantFile shares the file at resourcePath with the target user. The
// granter must own the file. The recipient receives an independent copy
// under their shared/ folder; a name collision gets a timestamp suffix.
func (r *Registry) GrantFile(granter store.User, resourcePath string, targetRef depot.UserRef) error {
	owner, folder, filename, err := r.resolver.OwnerAndFolder(resourcePath)
	if err != nil {
		return err
	}
	if owner.ID != granter.ID {
		return fmt.Errorf("share %s: %w", resourcePath, depot.ErrForbidden)
	}
	file, err := r.store.GetFile(owner.ID, folder, filename)
	if err != nil {
		return fmt.Errorf("share %s: %w", resourcePath, err)
	}
	target, err := r.store.GetUserByRef(targetRef)
	if err != nil {
		return fmt.Errorf("share target %s: %w", targetRef.Value, err)
	}
	if target.ID == granter.ID {
		return fmt.Errorf("share with self: %w", depot.ErrInvalidArgument)
	}

	if err := r.fs.EnsureDir(sharedFolderOf(target.Username)); err != nil {
		return err
	}
	copiedRel, err := r.fs.CopyFile(file.Path(), sharedFolderOf(target.Username)+"/"+filename)
	if err != nil {
		return fmt.Errorf("materialize copy: %w", err)
	}
	copiedName := path.Base(copiedRel)

	if _, err := r.store.CreateSharedFile(file.ID, target.ID, granter.ID, copiedName); err != nil {
		if rmErr := r.fs.Remove(copiedRel); rmErr != nil {
			r.log.Warn("orphaned share copy", "path", copiedRel, "error", rmErr)
		}
		return err
	}
	if _, err := r.store.UpsertFile(store.File{
		UserID:      target.ID,
		FolderName:  sharedFolderOf(target.Username),
		Filename:    copiedName,
		SizeBytes:   file.SizeBytes,
		ContentHash: file.ContentHash,
	}); err != nil {
		return fmt.Errorf("register copy: %w", err)
	}

	r.audit(granter.ID, "share.file.grant", resourcePath, target.Username)
	return nil
}

// RevokeFile removes the share edge and the recipient's materialized copy.
func (r *Registry) RevokeFile(granter store.User, resourcePath string, targetRef depot.UserRef) error {
	owner, folder, filename, err := r.resolver.OwnerAndFolder(resourcePath)
	if err != nil {
		return err
	}
	if owner.ID != granter.ID {
		return fmt.Errorf("revoke %s: %w", resourcePath, depot.ErrForbidden)
	}
	file, err := r.store.GetFile(owner.ID, folder, filename)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", resourcePath, err)
	}
	target, err := r.store.GetUserByRef(targetRef)
	if err != nil {
		return fmt.Errorf("revoke target %s: %w", targetRef.Value, err)
	}
	edge, err := r.store.GetSharedFile(file.ID, target.ID)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", resourcePath, err)
	}
	if err := r.store.DeleteSharedFile(edge.ID); err != nil {
		return err
	}

	if edge.CopiedFilename != "" {
		r.removeCopy(target.ID, sharedFolderOf(target.Username), edge.CopiedFilename)
	}
	r.audit(granter.ID, "share.file.revoke", resourcePath, target.Username)
	return nil
}

// GrantFolder shares the folder at folderPath with the target user,
// snapshotting its current contents into the recipient's shared/ folder.
func (r *Registry) GrantFolder(granter store.User, folderPath string, targetRef depot.UserRef) error {
	folder, err := r.ownFolder(granter, folderPath)
	if err != nil {
		return err
	}
	target, err := r.store.GetUserByRef(targetRef)
	if err != nil {
		return fmt.Errorf("share target %s: %w", targetRef.Value, err)
	}
	if target.ID == granter.ID {
		return fmt.Errorf("share with self: %w", depot.ErrInvalidArgument)
	}

	if err := r.fs.EnsureDir(sharedFolderOf(target.Username)); err != nil {
		return err
	}
	copiedRel, err := r.fs.CopyTree(folder, sharedFolderOf(target.Username)+"/"+path.Base(folder))
	if err != nil {
		return fmt.Errorf("materialize folder copy: %w", err)
	}

	if _, err := r.store.CreateSharedFolder(folder, target.ID, granter.ID, copiedRel); err != nil {
		if rmErr := r.fs.RemoveTree(copiedRel); rmErr != nil {
			r.log.Warn("orphaned share copy", "path", copiedRel, "error", rmErr)
		}
		return err
	}

	// Register the snapshot's top-level files so the recipient's listings
	// and favorites can reference them.
	files, err := r.store.ListFilesInFolder(granter.ID, folder)
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := r.store.UpsertFile(store.File{
			UserID:      target.ID,
			FolderName:  copiedRel,
			Filename:    f.Filename,
			SizeBytes:   f.SizeBytes,
			ContentHash: f.ContentHash,
		}); err != nil {
			return fmt.Errorf("register copy: %w", err)
		}
	}

	r.audit(granter.ID, "share.folder.grant", folder, target.Username)
	return nil
}

// RevokeFolder removes the folder share edge and the materialized snapshot.
func (r *Registry) RevokeFolder(granter store.User, folderPath string, targetRef depot.UserRef) error {
	folder, err := r.ownFolder(granter, folderPath)
	if err != nil {
		return err
	}
	target, err := r.store.GetUserByRef(targetRef)
	if err != nil {
		return fmt.Errorf("revoke target %s: %w", targetRef.Value, err)
	}
	edge, err := r.store.GetSharedFolder(folder, target.ID)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", folderPath, err)
	}
	if err := r.store.DeleteSharedFolder(edge.ID); err != nil {
		return err
	}

	if edge.CopiedPath != "" {
		files, err := r.store.ListFilesInFolder(target.ID, edge.CopiedPath)
		if err == nil {
			for _, f := range files {
				if delErr := r.store.DeleteFileRow(f.ID); delErr != nil && !errors.Is(delErr, depot.ErrNotFound) {
					r.log.Warn("stale copy row", "file", f.Path(), "error", delErr)
				}
			}
		}
		if rmErr := r.fs.RemoveTree(edge.CopiedPath); rmErr != nil {
			r.log.Warn("stale share copy", "path", edge.CopiedPath, "error", rmErr)
		}
	}
	r.audit(granter.ID, "share.folder.revoke", folder, target.Username)
	return nil
}

// GrantFileToGroup shares the file at resourcePath with every member of
// the named group. Nothing is materialized; members read through the
// owner's copy while the grant stands.
func (r *Registry) GrantFileToGroup(granter store.User, resourcePath, groupName string) error {
	file, group, err := r.fileAndGroup(granter, resourcePath, groupName)
	if err != nil {
		return err
	}
	if _, err := r.store.CreateGroupSharedFile(file.ID, group.ID, granter.ID); err != nil {
		return err
	}
	r.audit(granter.ID, "share.group_file.grant", resourcePath, group.Name)
	return nil
}

func (r *Registry) RevokeFileFromGroup(granter store.User, resourcePath, groupName string) error {
	file, group, err := r.fileAndGroup(granter, resourcePath, groupName)
	if err != nil {
		return err
	}
	edge, err := r.store.GetGroupSharedFile(file.ID, group.ID)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", resourcePath, err)
	}
	if err := r.store.DeleteGroupSharedFile(edge.ID); err != nil {
		return err
	}
	r.audit(granter.ID, "share.group_file.revoke", resourcePath, group.Name)
	return nil
}

// GrantFolderToGroup shares the folder with every member of the group.
func (r *Registry) GrantFolderToGroup(granter store.User, folderPath, groupName string) error {
	folder, err := r.ownFolder(granter, folderPath)
	if err != nil {
		return err
	}
	group, err := r.memberGroup(granter, groupName)
	if err != nil {
		return err
	}
	if _, err := r.store.CreateGroupSharedFolder(folder, group.ID, granter.ID); err != nil {
		return err
	}
	r.audit(granter.ID, "share.group_folder.grant", folder, group.Name)
	return nil
}

func (r *Registry) RevokeFolderFromGroup(granter store.User, folderPath, groupName string) error {
	folder, err := r.ownFolder(granter, folderPath)
	if err != nil {
		return err
	}
	group, err := r.memberGroup(granter, groupName)
	if err != nil {
		return err
	}
	edge, err := r.store.GetGroupSharedFolder(folder, group.ID)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", folderPath, err)
	}
	if err := r.store.DeleteGroupSharedFolder(edge.ID); err != nil {
		return err
	}
	r.audit(granter.ID, "share.group_folder.revoke", folder, group.Name)
	return nil
}

// Incoming lists everything shared with the user, across all four
// share kinds.
func (r *Registry) Incoming(userID int64) ([]store.IncomingShareView, error) {
	return r.store.ListIncomingShares(userID)
}

// Outgoing lists everything the user has shared out.
func (r *Registry) Outgoing(userID int64) ([]store.OutgoingShareView, error) {
	return r.store.ListOutgoingShares(userID)
}

// ownFolder validates that folderPath names a folder owned by the granter
// and returns its canonical name.
func (r *Registry) ownFolder(granter store.User, folderPath string) (string, error) {
	folder := util.NormalizeRelPath(folderPath)
	if folder == "" {
		return "", fmt.Errorf("folder path %q: %w", folderPath, depot.ErrInvalidPath)
	}
	first := folder
	if i := strings.IndexByte(folder, '/'); i >= 0 {
		first = folder[:i]
	}
	ref := depot.ParseUserRef(first)
	if ref.Value != granter.Username && ref.Value != granter.Email {
		return "", fmt.Errorf("folder %s: %w", folderPath, depot.ErrForbidden)
	}
	// Canonicalize an email owner segment to the username.
	rest := strings.TrimPrefix(folder, first)
	folder = granter.Username + rest
	if !r.fs.IsDir(folder) {
		return "", fmt.Errorf("folder %s: %w", folderPath, depot.ErrNotFound)
	}
	return folder, nil
}

func (r *Registry) fileAndGroup(granter store.User, resourcePath, groupName string) (store.File, store.Group, error) {
	owner, folder, filename, err := r.resolver.OwnerAndFolder(resourcePath)
	if err != nil {
		return store.File{}, store.Group{}, err
	}
	if owner.ID != granter.ID {
		return store.File{}, store.Group{}, fmt.Errorf("share %s: %w", resourcePath, depot.ErrForbidden)
	}
	file, err := r.store.GetFile(owner.ID, folder, filename)
	if err != nil {
		return store.File{}, store.Group{}, fmt.Errorf("share %s: %w", resourcePath, err)
	}
	group, err := r.memberGroup(granter, groupName)
	if err != nil {
		return store.File{}, store.Group{}, err
	}
	return file, group, nil
}

// memberGroup resolves the group and checks the granter belongs to it.
func (r *Registry) memberGroup(granter store.User, groupName string) (store.Group, error) {
	group, err := r.store.GetGroupByName(groupName)
	if err != nil {
		return store.Group{}, fmt.Errorf("group %s: %w", groupName, err)
	}
	if _, err := r.store.GetGroupMember(group.ID, granter.ID); err != nil {
		if errors.Is(err, depot.ErrNotFound) {
			return store.Group{}, fmt.Errorf("group %s: %w", groupName, depot.ErrForbidden)
		}
		return store.Group{}, err
	}
	return group, nil
}

func (r *Registry) removeCopy(targetUserID int64, folderName, filename string) {
	if f, err := r.store.GetFile(targetUserID, folderName, filename); err == nil {
		if delErr := r.store.DeleteFileRow(f.ID); delErr != nil {
			r.log.Warn("stale copy row", "file", f.Path(), "error", delErr)
		}
	}
	if err := r.fs.Remove(folderName + "/" + filename); err != nil {
		r.log.Warn("stale share copy", "path", folderName+"/"+filename, "error", err)
	}
}

func (r *Registry) audit(actorID int64, action, target, detail string) {
	meta := fmt.Sprintf(`{"with":%q}`, detail)
	if err := r.store.RecordAudit(&actorID, action, target, meta); err != nil {
		r.log.Warn("audit record failed", "action", action, "error", err)
	}
}
