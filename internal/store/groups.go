package store

import (
	"fmt"
	"strings"

	"github.com/filedepot/filedepot/internal/depot"
)

func (s *Store) CreateGroup(name, description string, createdBy int64) (int64, error) {
	name = strings.TrimSpace(name)
	res, err := s.db.Exec(`INSERT INTO groups(name, description, created_by) VALUES (?, ?, ?)`,
		name, description, createdBy)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("create group %s: %w", name, depot.ErrConflict)
		}
		return 0, fmt.Errorf("create group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("group id: %w", err)
	}
	return id, nil
}

func scanGroup(row interface{ Scan(...any) error }) (Group, error) {
	var g Group
	var active int
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &active, &g.CreatedAt)
	if err != nil {
		return Group{}, notFoundIfNoRows(err)
	}
	g.Active = active == 1
	return g, nil
}

func (s *Store) GetGroupByName(name string) (Group, error) {
	return scanGroup(s.db.QueryRow(`SELECT id, name, description, created_by, active, created_at
		FROM groups WHERE name = ?`, strings.TrimSpace(name)))
}

func (s *Store) GetGroupByID(id int64) (Group, error) {
	return scanGroup(s.db.QueryRow(`SELECT id, name, description, created_by, active, created_at
		FROM groups WHERE id = ?`, id))
}

// ListGroupsForUser returns the active groups the user is a member of.
func (s *Store) ListGroupsForUser(userID int64) ([]Group, error) {
	rows, err := s.db.Query(`SELECT g.id, g.name, g.description, g.created_by, g.active, g.created_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ? AND g.active = 1
		ORDER BY g.name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups for user: %w", err)
	}
	defer rows.Close()

	out := make([]Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) AddGroupMember(groupID, userID, addedBy int64, isAdmin bool) error {
	_, err := s.db.Exec(`INSERT INTO group_members(group_id, user_id, is_admin, added_by)
		VALUES (?, ?, ?, ?)`, groupID, userID, boolToInt(isAdmin), addedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("add group member: %w", depot.ErrConflict)
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (s *Store) GetGroupMember(groupID, userID int64) (GroupMember, error) {
	var m GroupMember
	var isAdmin int
	err := s.db.QueryRow(`SELECT id, group_id, user_id, is_admin, added_by, added_at
		FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).
		Scan(&m.ID, &m.GroupID, &m.UserID, &isAdmin, &m.AddedBy, &m.AddedAt)
	if err != nil {
		return GroupMember{}, notFoundIfNoRows(err)
	}
	m.IsAdmin = isAdmin == 1
	return m, nil
}

func (s *Store) ListGroupMembers(groupID int64) ([]GroupMember, error) {
	rows, err := s.db.Query(`SELECT m.id, m.group_id, m.user_id, m.is_admin, m.added_by, m.added_at, u.username
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ?
		ORDER BY u.username ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	out := make([]GroupMember, 0)
	for rows.Next() {
		var m GroupMember
		var isAdmin int
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &isAdmin, &m.AddedBy, &m.AddedAt, &m.Username); err != nil {
			return nil, err
		}
		m.IsAdmin = isAdmin == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GroupAdminCount(groupID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM group_members WHERE group_id = ? AND is_admin = 1`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("group admin count: %w", err)
	}
	return n, nil
}

func (s *Store) RemoveGroupMember(groupID, userID int64) error {
	res, err := s.db.Exec(`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

// SetGroupActive toggles whether the group's shares are honored. Membership
// and share rows are kept so reactivation restores access.
func (s *Store) SetGroupActive(groupID int64, active bool) error {
	res, err := s.db.Exec(`UPDATE groups SET active = ? WHERE id = ?`, boolToInt(active), groupID)
	if err != nil {
		return fmt.Errorf("set group active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}

// SetGroupMemberAdmin changes an existing member's admin flag.
func (s *Store) SetGroupMemberAdmin(groupID, userID int64, isAdmin bool) error {
	res, err := s.db.Exec(`UPDATE group_members SET is_admin = ? WHERE group_id = ? AND user_id = ?`,
		boolToInt(isAdmin), groupID, userID)
	if err != nil {
		return fmt.Errorf("set member admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return depot.ErrNotFound
	}
	return nil
}
