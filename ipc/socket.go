package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"cryogon/pleezer/player"
)

// broadcastInterval paces the state pushes to connected clients.
const broadcastInterval = time.Second

type Handler struct {
	mu      sync.Mutex
	clients []net.Conn
	player  *player.Player
}

func NewHandler(p *player.Player) *Handler {
	return &Handler{
		clients: make([]net.Conn, 0),
		player:  p,
	}
}

// Serve listens on the socket until the context ends. The socket file
// is replaced on startup and removed on shutdown.
func (h *Handler) Serve(ctx context.Context, socketPath string) error {
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	go h.broadcastPlayerState(ctx)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		go h.handleClient(conn)
	}
}

func (h *Handler) handleClient(conn net.Conn) {
	defer func() {
		conn.Close()
		h.removeClient(conn)
	}()

	h.mu.Lock()
	h.clients = append(h.clients, conn)
	h.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			log.Printf("[IPC] failed to parse command: %v", err)
			continue
		}
		h.handleCommand(cmd)
	}
}

func (h *Handler) removeClient(conn net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.clients {
		if c == conn {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			break
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	switch cmd.Type {
	case CmdPlay:
		h.player.Play()
	case CmdPause:
		h.player.Pause()
	case CmdNext:
		h.player.SetPosition(h.player.Position() + 1)
	case CmdPrev:
		if pos := h.player.Position(); pos > 0 {
			h.player.SetPosition(pos - 1)
		}
	case CmdVolume:
		h.player.SetVolume(cmd.Value)
	case CmdSeek:
		if err := h.player.SetProgress(cmd.Value); err != nil {
			log.Printf("[IPC] seek failed: %v", err)
		}
	default:
		log.Printf("[IPC] ignoring unsupported command %q", cmd.Type)
	}
}

func (h *Handler) broadcastPlayerState(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := h.player.Status()
		if status.Track == nil {
			continue
		}

		state := PlayerState{
			Playing:  status.Playing,
			TrackID:  status.Track.ID,
			Title:    status.Track.Title,
			Artist:   status.Track.Artist,
			Progress: status.Progress,
			Duration: int64(status.Duration.Seconds()),
			Volume:   status.Volume,
		}

		data, err := NewMessage(state, "player_state")
		if err != nil {
			log.Printf("[IPC] failed to encode player state: %v", err)
			continue
		}
		data = append(data, '\n')

		h.mu.Lock()
		clients := append([]net.Conn(nil), h.clients...)
		h.mu.Unlock()
		for _, client := range clients {
			if _, err := client.Write(data); err != nil {
				log.Printf("[IPC] failed to broadcast player state: %v", err)
			}
		}
	}
}
