package config

import (
	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/reid"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	if c.Tracker.MaxDistance <= 0 {
		return invalid("tracker.max_distance must be positive, got %v", c.Tracker.MaxDistance)
	}
	if c.Tracker.MaxMissed < 0 {
		return invalid("tracker.max_missed must not be negative, got %d", c.Tracker.MaxMissed)
	}
	if c.Tracker.TimeStep <= 0 {
		return invalid("tracker.time_step must be positive, got %v", c.Tracker.TimeStep)
	}
	if c.Tracker.SuppressIoU < 0 || c.Tracker.SuppressIoU > 1 {
		return invalid("tracker.suppress_iou must be in [0, 1], got %v", c.Tracker.SuppressIoU)
	}
	if _, err := mot.ParseMatchingAlgorithm(c.Tracker.Matching); err != nil {
		return invalid("tracker.matching: %v", err)
	}

	if c.ReID.Threshold <= 0 || c.ReID.Threshold > 1 {
		return invalid("reid.threshold must be in (0, 1], got %v", c.ReID.Threshold)
	}
	if c.ReID.AmbiguityMargin < 0 {
		return invalid("reid.ambiguity_margin must not be negative, got %v", c.ReID.AmbiguityMargin)
	}
	if c.ReID.Alpha < 0 || c.ReID.Alpha >= 1 {
		return invalid("reid.alpha must be in [0, 1), got %v", c.ReID.Alpha)
	}
	if c.ReID.MaxIdentities <= 0 {
		return invalid("reid.max_identities must be positive, got %d", c.ReID.MaxIdentities)
	}
	if _, err := reid.ParseEnrollPolicy(c.ReID.Enrollment); err != nil {
		return invalid("reid.enrollment: %v", err)
	}
	seen := make(map[string]struct{}, len(c.ReID.Gallery))
	for i, entry := range c.ReID.Gallery {
		if entry.ID == "" {
			return invalid("reid.gallery[%d]: id is empty", i)
		}
		if _, dup := seen[entry.ID]; dup {
			return invalid("reid.gallery[%d]: duplicate id %s", i, entry.ID)
		}
		seen[entry.ID] = struct{}{}
		if reid.Signature(entry.Signature).IsZero() {
			return invalid("reid.gallery[%d]: signature of %s is empty", i, entry.ID)
		}
	}

	if c.Interaction.Distance <= 0 {
		return invalid("interaction.distance must be positive, got %v", c.Interaction.Distance)
	}
	if c.Interaction.Duration <= 0 {
		return invalid("interaction.duration must be positive, got %v", c.Interaction.Duration)
	}

	r := c.Registry
	if r.GhostTimeout <= 0 {
		return invalid("registry.ghost_timeout must be positive, got %v", r.GhostTimeout)
	}
	if r.PurgeTimeout <= r.GhostTimeout {
		return invalid("registry.purge_timeout (%v) must exceed ghost_timeout (%v)", r.PurgeTimeout, r.GhostTimeout)
	}
	if r.SafeThreshold <= 0 {
		return invalid("registry.safe_threshold must be positive, got %v", r.SafeThreshold)
	}
	if r.AtRiskThreshold <= r.SafeThreshold {
		return invalid("registry.at_risk_threshold (%v) must exceed safe_threshold (%v)", r.AtRiskThreshold, r.SafeThreshold)
	}

	if c.Pipeline.MailboxSize <= 0 {
		return invalid("pipeline.mailbox_size must be positive, got %d", c.Pipeline.MailboxSize)
	}
	if c.Pipeline.PollTimeout <= 0 {
		return invalid("pipeline.poll_timeout must be positive, got %v", c.Pipeline.PollTimeout)
	}

	for i, zone := range c.Zones {
		if zone.Camera == "" {
			return invalid("zones[%d]: camera is empty", i)
		}
		if zone.FrameWidth <= 0 || zone.FrameHeight <= 0 {
			return invalid("zones[%d]: frame size must be positive", i)
		}
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
