package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"mimir/internal/book"
	"mimir/internal/config"
	"mimir/internal/metrics"
	mimirnet "mimir/internal/net"
)

func main() {
	configPath := flag.String("config", "", "path to an optional config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	// Setup the book, the TCP order-entry server and the depth feed.
	met := metrics.NewBookMetrics(nil)
	lob := book.New(book.WithCutoff(cfg.Cutoff()), book.WithMetrics(met))

	srv := mimirnet.New(cfg.ListenAddress, cfg.ListenPort, lob).WithWorkers(cfg.Workers)
	feed := mimirnet.NewFeed(cfg.FeedAddress, lob)

	t, ctx := tomb.WithContext(ctx)
	t.Go(func() error {
		return feed.Run(t)
	})
	go srv.Run(ctx)

	// Block on running the server.
	<-ctx.Done()
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("feed exited with error")
	}

	// Callers are quiesced once the transports are down; stop the book's
	// expiry task last.
	if err := lob.Close(); err != nil {
		log.Error().Err(err).Msg("book close")
	}
}
