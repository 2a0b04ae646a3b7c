// Package httpd serves a small read-only status endpoint: what the
// device is playing, and the local play history. It exists for
// monitoring; all control happens over the Connect channel.
package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cryogon/pleezer/player"
	"cryogon/pleezer/store"
)

func NewRouter(p *player.Player, db *store.Store, deviceName string) http.Handler {
	srv := &Server{
		Player:     p,
		Store:      db,
		DeviceName: deviceName,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/status", srv.handleStatus())
	r.Get("/history", srv.handleHistory())

	return r
}
