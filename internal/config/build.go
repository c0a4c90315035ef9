package config

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/pipeline"
	"github.com/LdDl/carewatch/registry"
	"github.com/LdDl/carewatch/reid"
)

// NewTracker builds tracker from tracker section
func (c *Config) NewTracker(clock timeutil.Clock) (*mot.CentroidTracker, error) {
	matching, err := mot.ParseMatchingAlgorithm(c.Tracker.Matching)
	if err != nil {
		return nil, err
	}
	return mot.NewCentroidTracker(
		mot.WithMaxDistance(c.Tracker.MaxDistance),
		mot.WithMaxMissed(c.Tracker.MaxMissed),
		mot.WithMatching(matching),
		mot.WithPrediction(c.Tracker.Prediction),
		mot.WithTimeStep(c.Tracker.TimeStep),
		mot.WithOverlapSuppression(c.Tracker.SuppressIoU),
		mot.WithClock(clock),
	), nil
}

// NewResolver builds resolver and enrolls configured gallery
func (c *Config) NewResolver(clock timeutil.Clock, logger *slog.Logger) (*reid.Resolver, error) {
	policy, err := reid.ParseEnrollPolicy(c.ReID.Enrollment)
	if err != nil {
		return nil, err
	}
	resolver := reid.NewResolver(
		reid.WithThreshold(c.ReID.Threshold),
		reid.WithAmbiguityMargin(c.ReID.AmbiguityMargin),
		reid.WithAlpha(c.ReID.Alpha),
		reid.WithEnrollPolicy(policy),
		reid.WithMinEnrollConfidence(c.ReID.MinEnrollConfidence),
		reid.WithMaxIdentities(c.ReID.MaxIdentities),
		reid.WithClock(clock),
		reid.WithLogger(logger),
	)
	for _, entry := range c.ReID.Gallery {
		if err := resolver.Enroll(entry.ID, reid.Signature(entry.Signature)); err != nil {
			return nil, errors.Wrap(err, "enroll gallery")
		}
	}
	return resolver, nil
}

// NewExtractor builds histogram signature extractor. It is for sources whose frames carry
// images, wrap it in pipeline.ImageExtractor. Replay scripts bring their own signatures.
func (c *Config) NewExtractor() *reid.HistogramExtractor {
	return reid.NewHistogramExtractor(c.ReID.Bins)
}

// NewInteractionDetector builds detector from interaction section
func (c *Config) NewInteractionDetector(clock timeutil.Clock, logger *slog.Logger) *interaction.Detector {
	d := interaction.NewDetector(interaction.Config{
		Distance: c.Interaction.Distance,
		Duration: c.Interaction.Duration,
	}, clock)
	if logger != nil {
		d.SetLogger(logger)
	}
	return d
}

// NewRegistry builds registry with policy, patient directory and floor plan
func (c *Config) NewRegistry(clock timeutil.Clock, logger *slog.Logger) *registry.Registry {
	return registry.New(
		registry.WithConfig(registry.Config{
			GhostTimeout: c.Registry.GhostTimeout,
			PurgeTimeout: c.Registry.PurgeTimeout,
		}),
		registry.WithPolicy(registry.Policy{
			SafeThreshold:   c.Registry.SafeThreshold,
			AtRiskThreshold: c.Registry.AtRiskThreshold,
			SafeWeight:      c.Registry.SafeWeight,
			AtRiskWeight:    c.Registry.AtRiskWeight,
			CriticalWeight:  c.Registry.CriticalWeight,
		}),
		registry.WithDirectory(registry.NewStaticDirectory(c.Patients...)),
		registry.WithFloorPlan(c.FloorPlan()),
		registry.WithClock(clock),
		registry.WithLogger(logger),
	)
}

// FloorPlan builds camera zones
func (c *Config) FloorPlan() *registry.FloorPlan {
	zones := make([]registry.CameraZone, 0, len(c.Zones))
	for _, z := range c.Zones {
		zones = append(zones, registry.CameraZone{
			CameraID:    z.Camera,
			CameraName:  z.Name,
			Map:         mot.NewRect(z.MapX, z.MapY, z.MapWidth, z.MapHeight),
			FrameWidth:  z.FrameWidth,
			FrameHeight: z.FrameHeight,
		})
	}
	return registry.NewFloorPlan(zones...)
}

// NewUniformClassifier builds color classifier for sources whose frames carry images.
// Replay scripts name roles themselves.
func (c *Config) NewUniformClassifier() *pipeline.UniformClassifier {
	return &pipeline.UniformClassifier{
		Staff:       c.Classifier.Staff,
		Patient:     c.Classifier.Patient,
		MinFraction: c.Classifier.MinFraction,
	}
}
