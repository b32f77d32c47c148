package store

import "fmt"

func (s *Store) RecordAudit(actorUserID *int64, action, target, metadata string) error {
	_, err := s.db.Exec(`INSERT INTO audit_logs(actor_user_id, action, target, metadata) VALUES (?, ?, ?, ?)`,
		actorUserID, action, target, metadata)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, actor_user_id, action, target, metadata, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	logs := make([]AuditLog, 0, limit)
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.ActorUserID, &l.Action, &l.Target, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListAuditForActor returns only the rows the given user produced.
func (s *Store) ListAuditForActor(actorUserID int64, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, actor_user_id, action, target, metadata, created_at
		FROM audit_logs
		WHERE actor_user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, actorUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit for actor: %w", err)
	}
	defer rows.Close()
	logs := make([]AuditLog, 0, limit)
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.ActorUserID, &l.Action, &l.Target, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
