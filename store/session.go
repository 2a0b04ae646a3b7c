package store

import (
	"database/sql"
	"errors"
)

// ARL returns the persisted login token, or "" when none was saved.
func (s *Store) ARL() (string, error) {
	var arl string
	err := s.db.QueryRow(`SELECT arl FROM session WHERE id = 1`).Scan(&arl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return arl, nil
}

// SaveARL stores a renewed login token.
func (s *Store) SaveARL(arl string) error {
	_, err := s.db.Exec(`
        INSERT INTO session (id, arl, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET arl = excluded.arl, updated_at = CURRENT_TIMESTAMP`,
		arl)
	return err
}

// SaveUser records who the session belongs to.
func (s *Store) SaveUser(userID uint64, userName string) error {
	_, err := s.db.Exec(`
        INSERT INTO session (id, user_id, user_name, updated_at)
        VALUES (1, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(id) DO UPDATE SET
            user_id = excluded.user_id,
            user_name = excluded.user_name,
            updated_at = CURRENT_TIMESTAMP`,
		int64(userID), userName)
	return err
}

// DeviceID returns the stored device identity, or "" when none exists.
func (s *Store) DeviceID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT device_id FROM device WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// SaveDeviceID stores the device identity. The first value wins; the
// id must stay stable across restarts.
func (s *Store) SaveDeviceID(id string) error {
	_, err := s.db.Exec(`
        INSERT INTO device (id, device_id) VALUES (1, ?)
        ON CONFLICT(id) DO NOTHING`,
		id)
	return err
}
