package store

import "time"

// Play is one entry of the local play history.
type Play struct {
	TrackID   int64
	TrackType string
	Title     string
	Artist    string
	PlayedAt  time.Time
}

// RecordPlay appends a track to the play history.
func (s *Store) RecordPlay(p Play) error {
	_, err := s.db.Exec(`
        INSERT INTO play_history (track_id, track_type, title, artist)
        VALUES (?, ?, ?, ?)`,
		p.TrackID, p.TrackType, p.Title, p.Artist)
	return err
}

// RecentPlays returns the newest entries, most recent first.
func (s *Store) RecentPlays(limit int) ([]Play, error) {
	rows, err := s.db.Query(`
        SELECT track_id, track_type, title, artist, played_at
        FROM play_history
        ORDER BY played_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var p Play
		if err := rows.Scan(&p.TrackID, &p.TrackType, &p.Title, &p.Artist, &p.PlayedAt); err != nil {
			return nil, err
		}
		plays = append(plays, p)
	}
	return plays, rows.Err()
}

// PlayCount returns how often a track appears in the history.
func (s *Store) PlayCount(trackID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM play_history WHERE track_id = ?`, trackID).Scan(&n)
	return n, err
}
