package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipdeck/clipd/internal/capture"
	"github.com/clipdeck/clipd/internal/cursor"
	"github.com/clipdeck/clipd/internal/monitor"
	"github.com/clipdeck/clipd/internal/pasteboard"
	"github.com/clipdeck/clipd/internal/replicator"
	"github.com/clipdeck/clipd/internal/signal"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the resident pasteboard monitor",
		Long: `Watches the system pasteboard, captures every change into the shared
history store, and follows changes other clipd processes make to the same
store. Multiple serve processes converge through the store's change log and
the machine-local signal socket.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.String("instance", defaultInstance(), "stable name for this process's durable cursor")
	f.String("socket", "", "signal socket path (default: runtime dir)")
	f.Int("history-limit", defaultHistoryLimit, "entries kept by retention pruning")
	f.Int("max-clipping-size", 0, "per-payload size cap in bytes (0 = unlimited)")
	f.Duration("poll-interval", monitor.DefaultPollInterval, "change-count polling cadence for the fallback path")
	addDataFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	dataDir := v.GetString("data-dir")
	instance := v.GetString("instance")
	limit := v.GetInt("history-limit")

	s, err := openStore(dataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	// Change records from this run carry a fresh origin for attribution; the
	// cursor stays pinned to the stable instance name across restarts.
	origin := fmt.Sprintf("%s-%s", instance, uuid.NewString()[:8])

	slog.Info("clipd serving",
		"version", Version,
		"data_dir", dataDir,
		"instance", instance,
		"origin", origin,
		"history_limit", limit,
	)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cur := cursor.NewFile(filepath.Join(dataDir, "state"), instance)
	repl := replicator.New(s, cur, replicator.NewView())
	repl.SeedLimit = limit

	// Prune on startup, compacting the log no further than this process's
	// own durable position.
	if tok, err := cur.Load(); err == nil {
		if err := s.Purge(ctx, limit, tok, origin); err != nil {
			slog.Warn("startup prune failed", "err", err)
		}
	}

	// Seed the view from the store itself and pin the cursor at the present;
	// the change log only has to cover what happens from here on.
	entries, err := s.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	latest, err := s.LatestToken(ctx)
	if err != nil {
		return fmt.Errorf("read change log position: %w", err)
	}
	if err := repl.Bootstrap(entries, latest); err != nil {
		return fmt.Errorf("seed view: %w", err)
	}

	source, writer := pasteboard.System()
	defer source.Close()

	socket := v.GetString("socket")
	if socket == "" {
		socket = signal.SocketPath()
	}

	// The monitor posts through the bus and the bus delivers to the monitor;
	// the handler is registered only once the monitor exists.
	bus, err := signal.Open(socket, nil)
	if err != nil {
		slog.Warn("signal socket unavailable, relying on polling only", "socket", socket, "err", err)
	} else {
		defer bus.Close()
	}

	var poster capture.Poster
	var mposter monitor.Poster
	if bus != nil {
		poster = bus
		mposter = bus
	}

	svc := capture.New(source, s, poster, origin, v.GetInt("max-clipping-size"))
	m := monitor.New(source, writer, svc, repl, mposter, monitor.Options{
		PollInterval: v.GetDuration("poll-interval"),
		StoreDir:     dataDir,
	})
	if bus != nil {
		bus.SetHandler(m.HandleSignal)
	}

	m.Run(ctx)
	slog.Info("clipd shutting down")
	return nil
}
