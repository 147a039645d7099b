package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/Bayrooo/webrtc-photo-booth-client/internal/api"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/compositor"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/config"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/domain"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/media"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/observability"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/server"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/session"
	sigclient "github.com/Bayrooo/webrtc-photo-booth-client/internal/signal"
	"github.com/Bayrooo/webrtc-photo-booth-client/internal/webrtc"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const helpText = `photobooth - two-person WebRTC photo booth

Usage:
  photobooth [options]

Starts the booth control API. One side creates a room and shares the
returned ID, the other side joins it. Either side can take a photo of
both video feeds with a filter and a frame overlay.

Environment Variables:
  BOOTH_PEER_SERVER   Signaling relay URL (default http://localhost:9000/peerjs)
  BOOTH_HTTP_ADDR     Listen address (default :8080)
  BOOTH_ICE_SERVERS   Comma separated STUN/TURN URLs
  BOOTH_FRAMES_DIR    Directory holding frame overlays (default ./assets/frames)
  BOOTH_CONFIG        Optional YAML config file

Examples:
  # Host a room
  photobooth &
  curl -XPOST localhost:8080/api/camera/start
  curl -XPOST localhost:8080/api/room

  # Take and download a photo
  curl -XPOST localhost:8080/api/capture
  curl -o vintage_photo.png localhost:8080/api/photo

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Str("module", "main").Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	camera := media.NewManager(media.CameraOpener(media.CameraOptions{
		Width:  cfg.CameraWidth,
		Height: cfg.CameraHeight,
	}))

	ids := api.NewClient(cfg.Relay, cfg.RegisterTimeout)
	signalers := func(h domain.Handler) domain.Signaler {
		return sigclient.NewClient(cfg.Relay, ids, h, sigclient.Options{Heartbeat: cfg.HeartbeatInterval})
	}
	peers := webrtc.NewFactory(webrtc.Options{
		ICEServers:  cfg.ICEServers,
		PLIInterval: cfg.PLIInterval,
	})

	// the camera manager stops whichever remote stream is current on shutdown
	var remote domain.Stream
	sess := session.New(session.Options{
		Signalers:   signalers,
		Peers:       peers,
		DialTimeout: cfg.DialTimeout,
		OnStatus: func(st domain.Status) {
			observability.RecordStatus(string(st.Kind))
		},
		OnRemoteStream: func(s domain.Stream) {
			if remote != nil {
				camera.Release(remote)
			}
			remote = s
			camera.Adopt(s)
			observability.SetConnected(s != nil)
		},
	})

	studio := compositor.NewStudio(compositor.MultiLoader{
		Local:  compositor.NewFileLoader(cfg.FramesDir),
		Remote: &compositor.HTTPLoader{},
	})

	srv := server.New(camera, sess, studio, server.Options{
		Mode:            cfg.Mode,
		FramesDir:       cfg.FramesDir,
		RegisterTimeout: cfg.RegisterTimeout,
		AllowOrigins:    cfg.AllowedOrigins(),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("module", "main").Str("addr", cfg.HTTPAddr).Str("relay", cfg.Relay.Host).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "main").Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Str("module", "main").Err(err).Msg("http shutdown")
	}

	sess.Leave()
	camera.Stop()

	log.Info().Str("module", "main").Msg("done")
}
