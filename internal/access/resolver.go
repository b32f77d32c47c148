// Package access decides whether an actor may perform an operation on a
// resource path. Resolution is a pure query over the resource registry,
// the share tables, and group memberships; callers act on the decision.
package access

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/util"
)

// Operation names what the caller intends to do with the resource. The
// grant model has no per-operation levels, so the operation only shows up
// in logs and audit metadata.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Via reports which mechanism granted access.
type Via string

const (
	ViaOwnership        Via = "ownership"
	ViaDirectShare      Via = "direct_share"
	ViaGroupShare       Via = "group_share"
	ViaFolderShare      Via = "folder_share"
	ViaGroupFolderShare Via = "group_folder_share"
)

type Decision struct {
	Allowed bool `json:"allowed"`
	Via     Via  `json:"via,omitempty"`
}

type Resolver struct {
	store *store.Store
	log   *slog.Logger
}

func NewResolver(st *store.Store, log *slog.Logger) *Resolver {
	return &Resolver{store: st, log: log}
}

// parsedPath is a resource path split into its access-relevant parts.
type parsedPath struct {
	// ownerRef is the leading segment, a username or email.
	ownerRef depot.UserRef
	filename string
	// relFolder is the folder path below the owner segment, "" for files
	// directly under the owner root.
	relFolder string
}

func parseResourcePath(resourcePath string) (parsedPath, error) {
	norm := util.NormalizeRelPath(resourcePath)
	segs := strings.Split(norm, "/")
	if norm == "" || len(segs) < 2 {
		return parsedPath{}, fmt.Errorf("resource path %q: %w", resourcePath, depot.ErrInvalidPath)
	}
	return parsedPath{
		ownerRef:  depot.ParseUserRef(segs[0]),
		filename:  segs[len(segs)-1],
		relFolder: strings.Join(segs[1:len(segs)-1], "/"),
	}, nil
}

// Resolve answers whether the actor may perform op on the resource at
// resourcePath. Checks run in a fixed order (ownership, direct file
// share, group file share, folder share, group folder share) and the
// first match decides the reported mechanism.
func (r *Resolver) Resolve(actor store.User, resourcePath string, op Operation) (Decision, error) {
	p, err := parseResourcePath(resourcePath)
	if err != nil {
		return Decision{}, err
	}

	if p.ownerRef.Value == actor.Username || p.ownerRef.Value == actor.Email {
		return Decision{Allowed: true, Via: ViaOwnership}, nil
	}

	owner, err := r.store.GetUserByRef(p.ownerRef)
	if err != nil {
		return Decision{}, fmt.Errorf("resource owner %s: %w", p.ownerRef.Value, err)
	}

	// Share rows key the containing folder by the owner's username even
	// when the request path used the owner's email.
	folderName := owner.Username
	if p.relFolder != "" {
		folderName = owner.Username + "/" + p.relFolder
	}

	if ok, err := r.store.HasDirectFileShare(owner.ID, folderName, p.filename, actor.ID); err != nil {
		return Decision{}, err
	} else if ok {
		return Decision{Allowed: true, Via: ViaDirectShare}, nil
	}

	if ok, err := r.store.HasGroupFileShare(owner.ID, folderName, p.filename, actor.ID); err != nil {
		return Decision{}, err
	} else if ok {
		return Decision{Allowed: true, Via: ViaGroupShare}, nil
	}

	if ok, err := r.store.HasFolderShare(folderName, actor.ID, owner.ID); err != nil {
		return Decision{}, err
	} else if ok {
		return Decision{Allowed: true, Via: ViaFolderShare}, nil
	}

	if ok, err := r.store.HasGroupFolderShare(folderName, actor.ID, owner.ID); err != nil {
		return Decision{}, err
	} else if ok {
		return Decision{Allowed: true, Via: ViaGroupFolderShare}, nil
	}

	r.log.Debug("access denied",
		"actor", actor.Username, "path", resourcePath, "op", string(op))
	return Decision{}, fmt.Errorf("%s on %s: %w", op, resourcePath, depot.ErrForbidden)
}

// ResolveFolder answers whether the actor may browse the folder at
// folderPath. Folder grants are exact-match, so only ownership and the
// two folder-share mechanisms can allow it. Returns the owner and the
// canonical folder name alongside the decision.
func (r *Resolver) ResolveFolder(actor store.User, folderPath string) (store.User, string, Decision, error) {
	norm := util.NormalizeRelPath(folderPath)
	if norm == "" {
		return store.User{}, "", Decision{}, fmt.Errorf("folder path %q: %w", folderPath, depot.ErrInvalidPath)
	}
	first := norm
	rest := ""
	if i := strings.IndexByte(norm, '/'); i >= 0 {
		first, rest = norm[:i], norm[i:]
	}
	ref := depot.ParseUserRef(first)

	if ref.Value == actor.Username || ref.Value == actor.Email {
		return actor, actor.Username + rest, Decision{Allowed: true, Via: ViaOwnership}, nil
	}

	owner, err := r.store.GetUserByRef(ref)
	if err != nil {
		return store.User{}, "", Decision{}, fmt.Errorf("folder owner %s: %w", ref.Value, err)
	}
	folderName := owner.Username + rest

	if ok, err := r.store.HasFolderShare(folderName, actor.ID, owner.ID); err != nil {
		return store.User{}, "", Decision{}, err
	} else if ok {
		return owner, folderName, Decision{Allowed: true, Via: ViaFolderShare}, nil
	}
	if ok, err := r.store.HasGroupFolderShare(folderName, actor.ID, owner.ID); err != nil {
		return store.User{}, "", Decision{}, err
	} else if ok {
		return owner, folderName, Decision{Allowed: true, Via: ViaGroupFolderShare}, nil
	}
	return store.User{}, "", Decision{}, fmt.Errorf("browse %s: %w", folderPath, depot.ErrForbidden)
}

// OwnerAndFolder resolves the owner user and canonical folder name for a
// resource path, for callers that need them after an allow decision.
func (r *Resolver) OwnerAndFolder(resourcePath string) (store.User, string, string, error) {
	p, err := parseResourcePath(resourcePath)
	if err != nil {
		return store.User{}, "", "", err
	}
	owner, err := r.store.GetUserByRef(p.ownerRef)
	if err != nil {
		return store.User{}, "", "", fmt.Errorf("resource owner %s: %w", p.ownerRef.Value, err)
	}
	folderName := owner.Username
	if p.relFolder != "" {
		folderName = owner.Username + "/" + p.relFolder
	}
	return owner, folderName, p.filename, nil
}
