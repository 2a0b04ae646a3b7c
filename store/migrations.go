package store

import "log"

func (s *Store) migrate() error {
	query := `
    -- One row per account: the ARL rotates when Deezer renews the
    -- login, and the renewed value must survive a restart.
    CREATE TABLE IF NOT EXISTS session (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        arl TEXT NOT NULL DEFAULT '',
        user_id INTEGER NOT NULL DEFAULT 0,
        user_name TEXT NOT NULL DEFAULT '',
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    -- The device identity announced on discovery. Generated once and
    -- kept stable so controllers recognize the device across restarts.
    CREATE TABLE IF NOT EXISTS device (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        device_id TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS play_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        track_id INTEGER NOT NULL,
        track_type TEXT NOT NULL DEFAULT 'song',
        title TEXT NOT NULL DEFAULT '',
        artist TEXT NOT NULL DEFAULT '',
        played_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_play_history_played_at
        ON play_history(played_at DESC);
    `

	_, err := s.db.Exec(query)
	if err != nil {
		log.Printf("ERROR: Database migration failed: %v", err)
		return err
	}

	return nil
}
