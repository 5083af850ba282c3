package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/rusma07/event-recommender-system/internal/cli"
	"github.com/rusma07/event-recommender-system/internal/httpapi"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	buildOnStart := fs.Bool("build-on-start", false, "Build the similarity model at startup when none is loaded")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, err := loadEnvConfig(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	_, dbCancel, pool, err := connectPool(10*time.Second, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	dbCancel()
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	stack, err := newRecommenderStack(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to build the recommender")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	defer stack.Close()

	if err := os.MkdirAll(filepath.Dir(stack.modelFS.Path()), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Create model directory failed: %v\n", err)
		return 1
	}

	rebuilder := newRebuilder(cfg, pool, stack.modelFS, stack.holder, logger)
	if *buildOnStart && !stack.holder.Current().Available() {
		rebuilder.Trigger()
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Store:       pool,
		Recommender: stack.cached,
		Models:      stack.holder,
		Assigner:    stack.assigner,
		Invalidator: stack.cached,
		Rebuilder:   rebuilder,
		Breakers:    stack.store,
	}, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		RebuildTimeout:  cfg.ModelRebuildTimeout,
		Defaults:        defaultRequestFromConfig(cfg),
		MaxTopK:         cfg.RecommendMaxTopK,
		AllowedOrigins:  cfg.CORSAllowedOriginsList(),
	})

	root := newSupervisor(logger, *shutdownTimeout)
	root.Add(srv)
	root.Add(simmodel.NewWatcher(stack.holder, logger))
	root.Add(rebuilder)

	if err := root.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}

// newSupervisor restarts the HTTP server, model watcher and rebuild runner
// independently when one of them fails.
func newSupervisor(logger zerolog.Logger, shutdownTimeout time.Duration) *suture.Supervisor {
	supervisorLogger := logger.With().Str("component", "supervisor").Logger()
	return suture.New("eventrec", suture.Spec{
		EventHook: func(ev suture.Event) {
			supervisorLogger.Warn().
				Int("event_type", int(ev.Type())).
				Fields(ev.Map()).
				Msg(ev.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}
