//go:build unix

package ipc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"cryogon/pleezer/player"
)

func startHandler(t *testing.T) (*player.Player, string) {
	t.Helper()

	p := player.New(player.Config{})
	p.Start()
	t.Cleanup(p.Close)

	socketPath := filepath.Join(t.TempDir(), "control.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewHandler(p).Serve(ctx, socketPath) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return p, socketPath
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("socket never came up")
	return nil, ""
}

func sendCommand(t *testing.T, socketPath string, cmd Command) {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the handler a moment to apply it before the conn closes.
	time.Sleep(50 * time.Millisecond)
}

func TestVolumeCommand(t *testing.T) {
	p, socketPath := startHandler(t)

	sendCommand(t, socketPath, Command{Type: CmdVolume, Value: 0.25})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Volume() == 0.25 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("volume = %v, want 0.25", p.Volume())
}

func TestPlayPauseCommands(t *testing.T) {
	p, socketPath := startHandler(t)

	sendCommand(t, socketPath, Command{Type: CmdPlay})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !p.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	if !p.IsPlaying() {
		t.Fatal("player not playing after play command")
	}

	sendCommand(t, socketPath, Command{Type: CmdPause})
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	if p.IsPlaying() {
		t.Fatal("player still playing after pause command")
	}
}

func TestMalformedCommandIgnored(t *testing.T) {
	p, socketPath := startHandler(t)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// The handler must survive garbage input.
	sendCommand(t, socketPath, Command{Type: CmdVolume, Value: 0.5})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Volume() == 0.5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("handler stopped processing after malformed input")
}
