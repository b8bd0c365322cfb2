package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/vkyc-labs/signaling/coordinator"
	httpServer "github.com/vkyc-labs/signaling/server/http"
	wsServer "github.com/vkyc-labs/signaling/server/ws"
	"github.com/vkyc-labs/signaling/storage/memory"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket signaling listen address")
		wsPath        = fs.StringP("ws-path", "p", "/ws", "websocket upgrade path")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	store := memory.NewStore()
	coord := coordinator.New(coordinator.Config{
		Store:  store,
		Logger: &logger,
	})
	apiSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		Stats:      store,
		ListenAddr: *apiListenAddr,
	})
	wsSrv := wsServer.NewServer(wsServer.Config{
		Logger:      &logger,
		Coordinator: coord,
		ListenAddr:  *wsListenAddr,
		Path:        *wsPath,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go apiSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
