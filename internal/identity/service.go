// Package identity manages user accounts, authentication and groups.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/fsops"
	"github.com/filedepot/filedepot/internal/mail"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/util"
)

const verificationDigits = 6

// Service owns the user and group lifecycle. Registration creates an
// unverified account; the mailed code flips it to verified.
type Service struct {
	store  *store.Store
	fs     *fsops.FS
	sender mail.Sender
	log    *slog.Logger
}

func NewService(st *store.Store, fs *fsops.FS, sender mail.Sender, log *slog.Logger) *Service {
	return &Service{store: st, fs: fs, sender: sender, log: log}
}

// Register creates an unverified account, prepares its storage folders
// and mails the verification code. Username and email collisions both
// surface as ErrConflict.
func (s *Service) Register(username, email, password string) (store.User, error) {
	ref := depot.ParseUserRef(username)
	if ref.Kind != depot.ByUsername {
		return store.User{}, fmt.Errorf("username %q: %w", username, depot.ErrInvalidPath)
	}
	username = ref.Value

	hash, err := auth.HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	code, err := util.VerificationCode(verificationDigits)
	if err != nil {
		return store.User{}, err
	}

	id, err := s.store.CreateUser(username, email, hash, code)
	if err != nil {
		return store.User{}, err
	}
	for _, dir := range []string{username, username + "/shared"} {
		if err := s.fs.EnsureDir(dir); err != nil {
			return store.User{}, err
		}
	}

	if err := s.sender.Send(email, "Verify your account",
		fmt.Sprintf("Your verification code is %s\r\n", code)); err != nil {
		s.log.Error("verification mail failed", "user", username, "error", err)
	}
	s.log.Info("user registered", "user", username)
	return s.store.GetUserByID(id)
}

// Verify activates the account matching the mailed code.
func (s *Service) Verify(ref depot.UserRef, code string) error {
	user, err := s.store.GetUserByRef(ref)
	if err != nil {
		return fmt.Errorf("verify %s: %w", ref.Value, err)
	}
	if user.Verified {
		return nil
	}
	if code == "" || user.VerificationCode != code {
		return fmt.Errorf("verify %s: %w", ref.Value, depot.ErrInvalidToken)
	}
	return s.store.MarkUserVerified(user.ID)
}

// Authenticate checks the password for the referenced account. Failed
// attempts count toward an exponential lockout; a success resets it.
func (s *Service) Authenticate(ref depot.UserRef, password string) (store.User, error) {
	user, err := s.store.GetUserByRef(ref)
	if err != nil {
		return store.User{}, fmt.Errorf("login %s: %w", ref.Value, depot.ErrForbidden)
	}
	if user.Disabled || !user.Verified {
		return store.User{}, fmt.Errorf("login %s: %w", ref.Value, depot.ErrForbidden)
	}
	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		return store.User{}, fmt.Errorf("login %s: %w", ref.Value, depot.ErrRateLimited)
	}

	ok, err := auth.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return store.User{}, err
	}
	if !ok {
		lock, regErr := s.store.RegisterFailedLogin(user.ID)
		if regErr != nil {
			s.log.Error("failed login bookkeeping", "user", user.Username, "error", regErr)
		}
		if lock > 0 {
			s.log.Warn("account locked", "user", user.Username, "duration", lock)
		}
		return store.User{}, fmt.Errorf("login %s: %w", ref.Value, depot.ErrForbidden)
	}

	if err := s.store.ResetLoginFailures(user.ID); err != nil {
		s.log.Error("login counter reset", "user", user.Username, "error", err)
	}
	return user, nil
}

// SetPassword replaces the user's password hash.
func (s *Service) SetPassword(userID int64, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.SetUserPassword(userID, hash)
}

// Resolve maps a username-or-email reference to the account.
func (s *Service) Resolve(ref depot.UserRef) (store.User, error) {
	return s.store.GetUserByRef(ref)
}

// SetDisabled suspends or restores an account without touching its data.
func (s *Service) SetDisabled(userID int64, disabled bool) error {
	return s.store.SetUserDisabled(userID, disabled)
}

// CreateGroup creates an active group with the creator as its first admin.
func (s *Service) CreateGroup(creator store.User, name, description string) (store.Group, error) {
	id, err := s.store.CreateGroup(name, description, creator.ID)
	if err != nil {
		return store.Group{}, err
	}
	if err := s.store.AddGroupMember(id, creator.ID, creator.ID, true); err != nil {
		return store.Group{}, err
	}
	s.log.Info("group created", "group", name, "by", creator.Username)
	return s.store.GetGroupByID(id)
}

// AddMember adds the referenced user to the group. Only admins may add
// members.
func (s *Service) AddMember(actor store.User, groupName string, ref depot.UserRef, asAdmin bool) error {
	group, _, err := s.adminOf(actor, groupName)
	if err != nil {
		return err
	}
	user, err := s.store.GetUserByRef(ref)
	if err != nil {
		return fmt.Errorf("add member %s: %w", ref.Value, err)
	}
	if err := s.store.AddGroupMember(group.ID, user.ID, actor.ID, asAdmin); err != nil {
		return err
	}
	s.log.Info("group member added", "group", groupName, "user", user.Username, "admin", asAdmin)
	return nil
}

// SetMemberAdmin promotes or demotes an existing member. Demoting the
// last admin is refused; a group keeps at least one admin for as long as
// it exists.
func (s *Service) SetMemberAdmin(actor store.User, groupName string, ref depot.UserRef, isAdmin bool) error {
	group, _, err := s.adminOf(actor, groupName)
	if err != nil {
		return err
	}
	user, err := s.store.GetUserByRef(ref)
	if err != nil {
		return fmt.Errorf("set member role %s: %w", ref.Value, err)
	}
	if !isAdmin {
		target, err := s.store.GetGroupMember(group.ID, user.ID)
		if err != nil {
			return fmt.Errorf("set member role %s: %w", ref.Value, err)
		}
		if target.IsAdmin {
			admins, err := s.store.GroupAdminCount(group.ID)
			if err != nil {
				return err
			}
			if admins == 1 {
				return fmt.Errorf("group %s needs an admin: %w", groupName, depot.ErrForbidden)
			}
		}
	}
	return s.store.SetGroupMemberAdmin(group.ID, user.ID, isAdmin)
}

// RemoveMember removes the referenced user from the group. Admins may
// remove anyone; a member may remove themselves. The last admin can
// never leave; the group has to be deleted instead.
func (s *Service) RemoveMember(actor store.User, groupName string, ref depot.UserRef) error {
	group, err := s.store.GetGroupByName(groupName)
	if err != nil {
		return fmt.Errorf("group %s: %w", groupName, err)
	}
	user, err := s.store.GetUserByRef(ref)
	if err != nil {
		return fmt.Errorf("remove member %s: %w", ref.Value, err)
	}

	actorMember, err := s.store.GetGroupMember(group.ID, actor.ID)
	if err != nil {
		return fmt.Errorf("group %s: %w", groupName, depot.ErrForbidden)
	}
	if user.ID != actor.ID && !actorMember.IsAdmin {
		return fmt.Errorf("group %s: %w", groupName, depot.ErrForbidden)
	}

	target, err := s.store.GetGroupMember(group.ID, user.ID)
	if err != nil {
		return fmt.Errorf("remove member %s: %w", ref.Value, err)
	}
	if target.IsAdmin {
		admins, err := s.store.GroupAdminCount(group.ID)
		if err != nil {
			return err
		}
		if admins == 1 {
			return fmt.Errorf("group %s needs an admin: %w", groupName, depot.ErrForbidden)
		}
	}

	if err := s.store.RemoveGroupMember(group.ID, user.ID); err != nil {
		return err
	}
	s.log.Info("group member removed", "group", groupName, "user", user.Username)
	return nil
}

// Members lists the group's membership. Any member may look.
func (s *Service) Members(actor store.User, groupName string) ([]store.GroupMember, error) {
	group, err := s.store.GetGroupByName(groupName)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", groupName, err)
	}
	if _, err := s.store.GetGroupMember(group.ID, actor.ID); err != nil {
		if errors.Is(err, depot.ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", groupName, depot.ErrForbidden)
		}
		return nil, err
	}
	return s.store.ListGroupMembers(group.ID)
}

// Groups lists the active groups the user belongs to.
func (s *Service) Groups(userID int64) ([]store.Group, error) {
	return s.store.ListGroupsForUser(userID)
}

// SetGroupActive suspends or restores a group's grants. Admins only.
func (s *Service) SetGroupActive(actor store.User, groupName string, active bool) error {
	group, _, err := s.adminOf(actor, groupName)
	if err != nil {
		return err
	}
	return s.store.SetGroupActive(group.ID, active)
}

func (s *Service) adminOf(actor store.User, groupName string) (store.Group, store.GroupMember, error) {
	group, err := s.store.GetGroupByName(groupName)
	if err != nil {
		return store.Group{}, store.GroupMember{}, fmt.Errorf("group %s: %w", groupName, err)
	}
	m, err := s.store.GetGroupMember(group.ID, actor.ID)
	if err != nil || !m.IsAdmin {
		return store.Group{}, store.GroupMember{}, fmt.Errorf("group %s: %w", groupName, depot.ErrForbidden)
	}
	return group, m, nil
}
