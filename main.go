package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cryogon/pleezer/config"
	"cryogon/pleezer/gateway"
	"cryogon/pleezer/hook"
	"cryogon/pleezer/httpd"
	"cryogon/pleezer/ipc"
	"cryogon/pleezer/player"
	"cryogon/pleezer/remote"
	"cryogon/pleezer/store"
	"cryogon/pleezer/utils"
)

const appVersion = "0.1.0"

// shutdownGrace lets the volume ramp pass through the device buffer
// before the process exits.
const shutdownGrace = 50 * time.Millisecond

// errReload restarts the whole stack after SIGHUP.
var errReload = errors.New("reload requested")

func main() {
	log.SetFlags(log.LstdFlags)

	if err := rootCommand().Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func rootCommand() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:           "pleezer",
		Short:         "Headless Deezer Connect playback device",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("loading .env file: %w", err)
			}
			if err := cfg.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Quiet {
				log.SetOutput(io.Discard)
			}

			if cfg.Device == "?" {
				for _, d := range player.Devices() {
					fmt.Println(d)
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for {
				err := run(ctx, cfg)
				if errors.Is(err, errReload) {
					log.Println("Reloading configuration")
					continue
				}
				return err
			}
		},
	}
	cfg.BindFlags(cmd.Flags())
	return cmd
}

// run stands up the whole stack and serves until the context ends, a
// fatal error occurs, or SIGHUP asks for a reload.
func run(ctx context.Context, cfg *config.Config) error {
	secrets, err := config.LoadSecrets(cfg.SecretsPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()

	deviceID, err := db.DeviceID()
	if err != nil {
		return err
	}
	if deviceID == "" {
		deviceID = config.DeviceID()
		if err := db.SaveDeviceID(deviceID); err != nil {
			return err
		}
	}

	// A renewed ARL in the store is fresher than the one in secrets.
	arl := secrets.ARL
	if stored, err := db.ARL(); err == nil && stored != "" {
		arl = stored
	}

	// Outgoing connections all bind to the configured interface.
	localAddr := cfg.LocalAddr()

	gw, err := gateway.New(gateway.Options{
		ARL:        arl,
		UserAgent:  "pleezer/" + appVersion,
		HTTPClient: utils.GatewayClient(localAddr),
		OnARLChange: func(renewed string) {
			if err := db.SaveARL(renewed); err != nil {
				log.Printf("Failed to persist renewed login: %v", err)
			}
		},
	})
	if err != nil {
		return err
	}

	if arl == "" {
		arl, err = gw.OAuth(ctx, secrets.Email, secrets.Password)
		if err != nil {
			return err
		}
		gw.SetARL(arl)
		if err := db.SaveARL(arl); err != nil {
			log.Printf("Failed to persist login: %v", err)
		}
	}
	if err := gw.Refresh(ctx); err != nil {
		return err
	}
	token, err := gw.UserToken(ctx)
	if err != nil {
		return err
	}
	log.Printf("Logged in as %s", gw.UserName())
	if err := db.SaveUser(token.UserID, gw.UserName()); err != nil {
		log.Printf("Failed to persist user: %v", err)
	}

	// The auth service session backs later renewals; playback works
	// without it, so failure only warns.
	if err := gw.LoginWithARL(ctx, arl); err != nil {
		log.Printf("Auth session unavailable: %v", err)
	}

	hooks := &hook.Runner{Script: cfg.Hook}

	var session *remote.Session
	p := player.New(player.Config{
		Client:        utils.MediaClient(localAddr),
		BFSecret:      []byte(secrets.BFSecret),
		Normalize:     cfg.NormalizeVolume,
		GainTargetDB:  float64(gw.TargetGain()),
		Loudness:      cfg.Loudness,
		DitherBits:    cfg.DitherBits,
		NoiseShaping:  cfg.NoiseShaping,
		MaxRAM:        cfg.MaxRAM(),
		RefreshTokens: gw.TrackTokens,
		OnEvent: func(e player.Event) {
			if session != nil {
				session.PlayerEvent(e)
			}
			switch e.Kind {
			case player.EventPlay:
				hooks.Fire(hook.EventPlaying, hook.TrackFields(e.Track))
			case player.EventPause:
				hooks.Fire(hook.EventPaused, hook.TrackFields(e.Track))
			case player.EventTrackChanged:
				hooks.Fire(hook.EventTrackChanged, hook.TrackFields(e.Track))
				if t := e.Track; t != nil {
					play := store.Play{
						TrackID:   t.ID,
						TrackType: t.Type.String(),
						Title:     t.Title,
						Artist:    t.Artist,
					}
					go func() {
						if err := db.RecordPlay(play); err != nil {
							log.Printf("Failed to record play: %v", err)
						}
					}()
				}
			}
		},
	})
	p.Start()
	defer p.Close()

	session, err = remote.New(remote.Options{
		Gateway:       gw,
		Player:        p,
		DeviceID:      deviceID,
		DeviceName:    cfg.DeviceName,
		DeviceType:    cfg.DeviceType,
		Version:       appVersion,
		Interruptions: !cfg.NoInterruptions,
		InitialVolume: cfg.InitialVolumeFraction(),
		Eavesdrop:     cfg.Eavesdrop,
		LocalAddr:     localAddr,
		OnConnect: func(controller string) {
			hooks.Fire(hook.EventConnected, hook.UserFields(token.UserID, gw.UserName()))
		},
		OnDisconnect: func(controller string) {
			hooks.Fire(hook.EventDisconnected, hook.UserFields(token.UserID, gw.UserName()))
		},
	})
	if err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Status != "" {
		router := httpd.NewRouter(p, db, cfg.DeviceName)
		go func() {
			log.Printf("Status endpoint listening on %s", cfg.Status)
			if err := http.ListenAndServe(cfg.Status, router); err != nil {
				log.Printf("Status endpoint failed: %v", err)
			}
		}()
	}
	if cfg.Control != "" {
		handler := ipc.NewHandler(p)
		go func() {
			log.Printf("Control socket at %s", cfg.Control)
			if err := handler.Serve(sctx, cfg.Control); err != nil {
				log.Printf("Control socket failed: %v", err)
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	sessionErr := make(chan error, 1)
	go func() { sessionErr <- session.Run(sctx) }()

	log.Printf("Connect device %q ready", cfg.DeviceName)

	select {
	case <-ctx.Done():
		shutdown(p, cancel, sessionErr)
		logout(gw)
		return nil

	case <-hup:
		// The reload logs straight back in, so the auth session
		// stays alive.
		shutdown(p, cancel, sessionErr)
		return errReload

	case err := <-sessionErr:
		// Only fatal errors escape the session's reconnect loop.
		return err
	}
}

// shutdown fades playback out before tearing the session down, so the
// device does not pop on exit.
func shutdown(p *player.Player, cancel context.CancelFunc, sessionErr chan error) {
	p.Pause()
	time.Sleep(shutdownGrace)
	cancel()
	<-sessionErr
}

// logout invalidates the auth session on exit. The stored ARL stays
// put, so the next start logs straight back in.
func logout(gw *gateway.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Logout(ctx); err != nil {
		log.Printf("Failed to log out: %v", err)
	}
}
