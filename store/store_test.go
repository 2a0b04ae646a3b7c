package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestARLRoundTrip(t *testing.T) {
	s := openTestStore(t)

	arl, err := s.ARL()
	if err != nil {
		t.Fatalf("ARL: %v", err)
	}
	if arl != "" {
		t.Fatalf("fresh store has ARL %q", arl)
	}

	if err := s.SaveARL("first"); err != nil {
		t.Fatalf("SaveARL: %v", err)
	}
	if err := s.SaveARL("renewed"); err != nil {
		t.Fatalf("SaveARL: %v", err)
	}

	arl, err = s.ARL()
	if err != nil {
		t.Fatalf("ARL: %v", err)
	}
	if arl != "renewed" {
		t.Fatalf("ARL = %q, want renewed", arl)
	}
}

func TestSaveUserKeepsARL(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveARL("token"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveUser(42, "listener"); err != nil {
		t.Fatal(err)
	}

	arl, err := s.ARL()
	if err != nil {
		t.Fatal(err)
	}
	if arl != "token" {
		t.Fatalf("ARL = %q after SaveUser, want token", arl)
	}
}

func TestDeviceIDFirstValueWins(t *testing.T) {
	s := openTestStore(t)

	id, err := s.DeviceID()
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Fatalf("fresh store has device id %q", id)
	}

	if err := s.SaveDeviceID("device-a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDeviceID("device-b"); err != nil {
		t.Fatal(err)
	}

	id, err = s.DeviceID()
	if err != nil {
		t.Fatal(err)
	}
	if id != "device-a" {
		t.Fatalf("device id = %q, want the first value", id)
	}
}

func TestPlayHistory(t *testing.T) {
	s := openTestStore(t)

	plays := []Play{
		{TrackID: 1, TrackType: "song", Title: "One", Artist: "A"},
		{TrackID: 2, TrackType: "song", Title: "Two", Artist: "B"},
		{TrackID: 1, TrackType: "song", Title: "One", Artist: "A"},
	}
	for _, p := range plays {
		if err := s.RecordPlay(p); err != nil {
			t.Fatalf("RecordPlay: %v", err)
		}
	}

	recent, err := s.RecentPlays(2)
	if err != nil {
		t.Fatalf("RecentPlays: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d plays, want 2", len(recent))
	}
	if recent[0].TrackID != 1 || recent[1].TrackID != 2 {
		t.Fatalf("order = %d, %d", recent[0].TrackID, recent[1].TrackID)
	}

	n, err := s.PlayCount(1)
	if err != nil {
		t.Fatalf("PlayCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("play count = %d, want 2", n)
	}
}
