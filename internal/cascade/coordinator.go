// Package cascade removes users, files and groups together with every
// row and materialized copy that references them.
package cascade

import (
	"fmt"
	"log/slog"

	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/fsops"
	"github.com/filedepot/filedepot/internal/store"
)

// Coordinator runs deletions in two phases: metadata in one transaction,
// then filesystem cleanup. A crash between the phases can only leave
// orphaned bytes, never metadata pointing at missing rows.
type Coordinator struct {
	store *store.Store
	fs    *fsops.FS
	log   *slog.Logger
}

func NewCoordinator(st *store.Store, fs *fsops.FS, log *slog.Logger) *Coordinator {
	return &Coordinator{store: st, fs: fs, log: log}
}

// DeleteUser erases the user's account: all rows referencing the user,
// the user's storage subtree, and every copy their direct shares placed
// in other users' folders. Filesystem failures are logged, not returned;
// the metadata deletion has already committed.
func (c *Coordinator) DeleteUser(user store.User) error {
	copies, err := c.store.CascadeDeleteUser(user.ID)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", user.Username, err)
	}

	if err := c.fs.RemoveTree(user.Username); err != nil {
		c.log.Error("user subtree removal failed", "user", user.Username, "error", err)
	}
	c.removeCopies(copies)

	c.log.Info("user deleted", "user", user.Username, "granted_copies", len(copies))
	return nil
}

// DeleteFile erases one owned file: its row, favorites, share edges,
// scan records, the bytes, and the copies recipients received.
func (c *Coordinator) DeleteFile(file store.File) error {
	copies, err := c.store.CascadeDeleteFile(file.ID)
	if err != nil {
		return fmt.Errorf("delete file %s: %w", file.Path(), err)
	}

	if err := c.fs.Remove(file.Path()); err != nil {
		c.log.Error("file removal failed", "path", file.Path(), "error", err)
	}
	c.removeCopies(copies)
	return nil
}

// DeleteGroup erases the group, its memberships and its share edges.
// Only a group admin may do this.
func (c *Coordinator) DeleteGroup(actor store.User, groupName string) error {
	group, err := c.store.GetGroupByName(groupName)
	if err != nil {
		return fmt.Errorf("delete group %s: %w", groupName, err)
	}
	m, err := c.store.GetGroupMember(group.ID, actor.ID)
	if err != nil || !m.IsAdmin {
		return fmt.Errorf("delete group %s: %w", groupName, depot.ErrForbidden)
	}
	if err := c.store.CascadeDeleteGroup(group.ID); err != nil {
		return err
	}
	c.log.Info("group deleted", "group", groupName, "by", actor.Username)
	return nil
}

func (c *Coordinator) removeCopies(copies []store.MaterializedCopy) {
	for _, cp := range copies {
		if cp.IsFolder {
			if err := c.fs.RemoveTree(cp.Name); err != nil {
				c.log.Error("copy removal failed", "path", cp.Name, "error", err)
			}
			continue
		}
		rel := cp.TargetUsername + "/shared/" + cp.Name
		if err := c.fs.Remove(rel); err != nil {
			c.log.Error("copy removal failed", "path", rel, "error", err)
		}
	}
}
