package store

import "fmt"

const (
	ScanClean    = "clean"
	ScanInfected = "infected"
	ScanPending  = "pending"
)

func (s *Store) RecordFileScan(fileID, userID int64, status string) error {
	_, err := s.db.Exec(`INSERT INTO file_scans(file_id, user_id, status) VALUES (?, ?, ?)`,
		fileID, userID, status)
	if err != nil {
		return fmt.Errorf("record file scan: %w", err)
	}
	return nil
}

func (s *Store) ListFileScans(fileID int64) ([]FileScan, error) {
	rows, err := s.db.Query(`SELECT id, file_id, user_id, status, scanned_at
		FROM file_scans WHERE file_id = ? ORDER BY scanned_at DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("list file scans: %w", err)
	}
	defer rows.Close()

	out := make([]FileScan, 0)
	for rows.Next() {
		var fs FileScan
		if err := rows.Scan(&fs.ID, &fs.FileID, &fs.UserID, &fs.Status, &fs.ScannedAt); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}
