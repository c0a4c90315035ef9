package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LdDl/carewatch/eventstore"
	"github.com/LdDl/carewatch/internal/config"
	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/pipeline"
	"github.com/LdDl/carewatch/registry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a detection script through the pipeline",
	Long: `Run plays a JSON-lines detection script through tracker, re-identification,
interaction detection and the registry, then prints the resulting entities.

Example:
  carewatch run --replay ward.jsonl --db carewatch.db`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("replay", "", "JSON-lines detection script")
	runCmd.Flags().String("db", "", "SQLite event store, overrides store.path")
	_ = runCmd.MarkFlagRequired("replay")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if db := mustGetString(cmd, "db"); db != "" {
		cfg.Store.Path = db
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)
	logger := log.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, mustGetString(cmd, "replay"), logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.run(ctx); err != nil {
		return err
	}
	printEntities(cmd.OutOrStdout(), app.registry.ListEntities())
	printStats(cmd.OutOrStdout(), app.registry.Stats(), app.stats.Snapshot(app.mailbox))
	return nil
}

type app struct {
	registry *registry.Registry
	mailbox  *pipeline.Mailbox
	stats    *pipeline.Stats
	producer *pipeline.Producer
	consumer *pipeline.Consumer
	store    *eventstore.Store
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, replayPath string, logger *slog.Logger) (*app, error) {
	clock := timeutil.RealClock{}
	tracker, err := cfg.NewTracker(clock)
	if err != nil {
		return nil, err
	}
	resolver, err := cfg.NewResolver(clock, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		registry: cfg.NewRegistry(clock, logger),
		mailbox:  pipeline.NewMailbox(cfg.Pipeline.MailboxSize),
		stats:    &pipeline.Stats{},
		logger:   logger,
	}

	sinks := []pipeline.EventSink{pipeline.LogSink{Logger: logger}}
	if cfg.Store.Path != "" {
		store, err := eventstore.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.store = store
		sinks = append(sinks, store)
		if err := a.restore(ctx, cfg.Patients); err != nil {
			a.close()
			return nil, err
		}
	}

	source := pipeline.NewReplayFile(replayPath,
		pipeline.WithInterval(cfg.Pipeline.ReplayInterval),
		pipeline.WithDefaultCamera(cfg.Pipeline.Camera),
	)
	a.producer, err = pipeline.NewProducer(pipeline.ProducerConfig{
		Source:       source,
		Detector:     source,
		Classifier:   source,
		Extractor:    source,
		Tracker:      tracker,
		Resolver:     resolver,
		Interactions: cfg.NewInteractionDetector(clock, logger),
		Mailbox:      a.mailbox,
		Stats:        a.stats,
		RetryDelay:   cfg.Pipeline.RetryDelay,
		Logger:       logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.consumer, err = pipeline.NewConsumer(pipeline.ConsumerConfig{
		Registry:    a.registry,
		Mailbox:     a.mailbox,
		Sinks:       sinks,
		Stats:       a.stats,
		PollTimeout: cfg.Pipeline.PollTimeout,
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// restore seeds last interaction of every known patient from the store
func (a *app) restore(ctx context.Context, patients []string) error {
	for _, patientID := range patients {
		at, ok, err := a.store.LastInteraction(ctx, patientID)
		if err != nil {
			return errors.Wrapf(err, "restore %s", patientID)
		}
		if !ok {
			continue
		}
		a.registry.RestoreInteraction(patientID, at)
		a.logger.Debug("interaction restored", "patient", patientID, "at", at)
	}
	return nil
}

func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Consumer drains what is left once producer is done
		defer a.mailbox.Close()
		return a.producer.Run(gctx)
	})
	g.Go(func() error {
		return a.consumer.Run(gctx)
	})
	return g.Wait()
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}

func printEntities(w io.Writer, entities []registry.Entity) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tIDENTITY\tROLE\tCAMERA\tMAP\tIDLE\tRISK\tPRIORITY\tGHOST")
	for _, e := range entities {
		identity := e.IdentityID
		if identity == "" {
			identity = "-"
		}
		if e.Tagged {
			identity += "*"
		}
		since := "-"
		if !e.LastInteraction.IsZero() {
			since = time.Since(e.LastInteraction).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f,%.0f\t%s\t%s\t%.1f\t%t\n",
			e.TrackID, identity, e.Role, e.CameraID,
			e.MapPosition.X, e.MapPosition.Y, since, e.Risk, e.Priority, e.Ghost)
	}
	tw.Flush()
}

func printStats(w io.Writer, stats registry.Stats, pipe pipeline.StatsSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "entities\t%d\n", stats.Total)
	fmt.Fprintf(tw, "identified\t%d\n", stats.Identified)
	fmt.Fprintf(tw, "unidentified\t%d\n", stats.Unidentified)
	fmt.Fprintf(tw, "staff\t%d\n", stats.Staff)
	fmt.Fprintf(tw, "patients\t%d\n", stats.Patients)
	fmt.Fprintf(tw, "ghosts\t%d\n", stats.Ghosts)
	fmt.Fprintf(tw, "safe / at risk / critical\t%d / %d / %d\n", stats.SafeLocated, stats.AtRiskLocated, stats.CriticalLocated)
	fmt.Fprintf(tw, "frames\t%d\n", pipe.Frames)
	fmt.Fprintf(tw, "capture / detect failures\t%d / %d\n", pipe.CaptureFailures, pipe.DetectFailures)
	fmt.Fprintf(tw, "published / applied / dropped\t%d / %d / %d\n", pipe.Published, pipe.Applied, pipe.Dropped)
	fmt.Fprintf(tw, "sink failures\t%d\n", pipe.SinkFailures)
	tw.Flush()
}
