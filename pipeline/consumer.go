package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/registry"
)

const defaultPollTimeout = 200 * time.Millisecond

// ConsumerConfig wires consumer. Registry and Mailbox are required
type ConsumerConfig struct {
	Registry *registry.Registry
	Mailbox  *Mailbox
	Sinks    []EventSink
	Stats    *Stats
	// Bounded wait of a single receive
	PollTimeout time.Duration
	Logger      *slog.Logger
}

// Consumer applies producer updates to the registry
type Consumer struct {
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer validates config and creates consumer
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Registry == nil {
		return nil, errors.New("consumer: registry is required")
	}
	if cfg.Mailbox == nil {
		return nil, errors.New("consumer: mailbox is required")
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger.With("component", "consumer"),
	}, nil
}

// Run receives updates until ctx is done or mailbox is closed and drained
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		update, ok := c.cfg.Mailbox.Receive(ctx, c.cfg.PollTimeout)
		if !ok {
			if c.cfg.Mailbox.Drained() {
				c.logger.Info("mailbox drained")
				return nil
			}
			continue
		}
		c.Apply(ctx, update)
	}
}

// Apply merges a single update into the registry and forwards its events to sinks.
// A failing sink is logged and skipped.
func (c *Consumer) Apply(ctx context.Context, update Update) {
	c.cfg.Registry.Apply(update.Tracks, update.Lost)
	for _, event := range update.Interactions {
		// Sinks get the identity the registry resolved, a tag included
		event = c.cfg.Registry.RecordInteraction(event)
		for _, sink := range c.cfg.Sinks {
			if err := sink.RecordInteraction(ctx, event); err != nil {
				c.cfg.Stats.sinkFailures.Add(1)
				c.logger.Warn("sink interaction", "event", event.ID, "error", err)
			}
		}
	}
	c.cfg.Stats.applied.Add(1)
}

// LogSink writes interactions to a logger
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) RecordInteraction(_ context.Context, event interaction.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = log.L()
	}
	logger.Info("interaction",
		"event", event.ID,
		"staff_track", event.StaffTrackID,
		"patient_track", event.PatientTrackID,
		"staff_identity", event.StaffIdentityID,
		"patient_identity", event.PatientIdentityID,
		"duration", event.Duration,
	)
	return nil
}
