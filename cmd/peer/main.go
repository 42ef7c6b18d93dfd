package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/videocl/mesh/coordinator"
	"github.com/videocl/mesh/coordinator/pion"
	"github.com/videocl/mesh/signaling"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		serverURL = fs.StringP("server-url", "s", "ws://localhost:8888/signal", "signaling server url")
		roomID    = fs.StringP("room", "r", "", "room to join")
		name      = fs.StringP("name", "n", "guest", "display name")
		stun      = fs.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "stun servers")
		turn      = fs.StringSlice("turn", nil, "turn servers")
		turnUser  = fs.String("turn-username", "", "turn username")
		turnPass  = fs.String("turn-password", "", "turn password")
		logLevel  = fs.StringP("log-level", "l", "debug", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if *roomID == "" {
		logger.Fatal().Msg("room is required")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	media := pion.NewMedia()
	connector, err := pion.NewConnector(pion.Config{
		Logger:       &logger,
		STUNServers:  *stun,
		TURNServers:  *turn,
		TURNUsername: *turnUser,
		TURNPassword: *turnPass,
		OnTrack: func(remoteID string, track *webrtc.TrackRemote) {
			logger.Info().
				Str("remoteID", remoteID).
				Str("kind", track.Kind().String()).
				Msg("remote track arrived")
		},
	}, media)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create webrtc connector")
	}

	client := signaling.NewClient(*serverURL, &logger)
	if err = client.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to signaling server")
	}
	defer client.Close()

	coord := coordinator.New(coordinator.Config{
		Logger:    &logger,
		Signaler:  client,
		Connector: connector,
		Media:     media,
		RoomID:    *roomID,
		Name:      *name,
		OnChat: func(from, text string) {
			logger.Info().Str("from", from).Str("text", text).Msg("chat")
		},
	})

	if err = coord.Join(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to join room")
	}

	coord.Run(ctx, client.Incoming())
	logger.Info().Msg("peer stopped")
}
