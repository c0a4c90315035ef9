package config

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/pipeline"
	"github.com/LdDl/carewatch/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 80.0, cfg.Tracker.MaxDistance)
	assert.Equal(t, 15, cfg.Tracker.MaxMissed)
	assert.Equal(t, 0.6, cfg.ReID.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Interaction.Duration)
	assert.Equal(t, 10, cfg.Pipeline.MailboxSize)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Tracker, cfg.Tracker)
}

func TestLoadOverlay(t *testing.T) {
	path := writeConfig(t, `
tracker:
  max_distance: 60
  matching: hungarian
interaction:
  duration: 5s
registry:
  ghost_timeout: 45s
  purge_timeout: 10m
reid:
  enrollment: implicit
  gallery:
    - id: P-001
      signature: [1, 0, 0]
patients: [P-001, P-002]
zones:
  - camera: cam-1
    name: Ward A
    map_x: 100
    map_y: 50
    map_width: 640
    map_height: 360
    frame_width: 1280
    frame_height: 720
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.Tracker.MaxDistance)
	assert.Equal(t, "hungarian", cfg.Tracker.Matching)
	// Keys missing from the file keep defaults
	assert.Equal(t, 15, cfg.Tracker.MaxMissed)
	assert.Equal(t, 5*time.Second, cfg.Interaction.Duration)
	assert.Equal(t, 100.0, cfg.Interaction.Distance)
	assert.Equal(t, 45*time.Second, cfg.Registry.GhostTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Registry.PurgeTimeout)
	assert.Equal(t, []string{"P-001", "P-002"}, cfg.Patients)
	require.Len(t, cfg.ReID.Gallery, 1)
	assert.Equal(t, "P-001", cfg.ReID.Gallery[0].ID)
	require.Len(t, cfg.Zones, 1)
	assert.Equal(t, "Ward A", cfg.Zones[0].Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CAREWATCH_LOG_LEVEL", "debug")
	t.Setenv("CAREWATCH_LOG_FORMAT", "json")
	t.Setenv("CAREWATCH_DB", "/tmp/carewatch.db")
	path := writeConfig(t, "log:\n  level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/carewatch.db", cfg.Store.Path)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "tracker: [not, a, map]\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "tracker:\n  max_distance: -1\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max distance", func(c *Config) { c.Tracker.MaxDistance = 0 }},
		{"max missed", func(c *Config) { c.Tracker.MaxMissed = -1 }},
		{"time step", func(c *Config) { c.Tracker.TimeStep = 0 }},
		{"suppress iou", func(c *Config) { c.Tracker.SuppressIoU = 1.5 }},
		{"matching", func(c *Config) { c.Tracker.Matching = "auction" }},
		{"threshold", func(c *Config) { c.ReID.Threshold = 1.5 }},
		{"alpha", func(c *Config) { c.ReID.Alpha = 1 }},
		{"margin", func(c *Config) { c.ReID.AmbiguityMargin = -0.1 }},
		{"max identities", func(c *Config) { c.ReID.MaxIdentities = 0 }},
		{"enrollment", func(c *Config) { c.ReID.Enrollment = "sometimes" }},
		{"gallery id", func(c *Config) { c.ReID.Gallery = []GalleryEntry{{Signature: []float64{1}}} }},
		{"gallery duplicate", func(c *Config) {
			c.ReID.Gallery = []GalleryEntry{{ID: "P-1", Signature: []float64{1}}, {ID: "P-1", Signature: []float64{0, 1}}}
		}},
		{"gallery signature", func(c *Config) { c.ReID.Gallery = []GalleryEntry{{ID: "P-1", Signature: []float64{0, 0}}} }},
		{"interaction distance", func(c *Config) { c.Interaction.Distance = 0 }},
		{"interaction duration", func(c *Config) { c.Interaction.Duration = 0 }},
		{"ghost timeout", func(c *Config) { c.Registry.GhostTimeout = 0 }},
		{"purge before ghost", func(c *Config) { c.Registry.PurgeTimeout = c.Registry.GhostTimeout }},
		{"safe threshold", func(c *Config) { c.Registry.SafeThreshold = 0 }},
		{"at risk before safe", func(c *Config) { c.Registry.AtRiskThreshold = c.Registry.SafeThreshold }},
		{"mailbox", func(c *Config) { c.Pipeline.MailboxSize = 0 }},
		{"poll timeout", func(c *Config) { c.Pipeline.PollTimeout = 0 }},
		{"zone camera", func(c *Config) { c.Zones = []ZoneConfig{{FrameWidth: 1, FrameHeight: 1}} }},
		{"zone frame", func(c *Config) { c.Zones = []ZoneConfig{{Camera: "cam-1"}} }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestBuilders(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Tracker.Matching = "hungarian"
	cfg.ReID.Gallery = []GalleryEntry{{ID: "P-001", Signature: []float64{1, 0, 0}}}
	cfg.Patients = []string{"P-001"}
	cfg.Zones = []ZoneConfig{{
		Camera: "cam-1", MapX: 100, MapY: 50, MapWidth: 640, MapHeight: 360,
		FrameWidth: 1280, FrameHeight: 720,
	}}
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))

	tracker, err := cfg.NewTracker(clock)
	require.NoError(t, err)
	tracks := tracker.Update([]mot.Detection{mot.NewDetection(0, 0, 40, 40, 0.9)})
	assert.Len(t, tracks, 1)

	resolver, err := cfg.NewResolver(clock, nil)
	require.NoError(t, err)
	assert.True(t, resolver.Has("P-001"))

	reg := cfg.NewRegistry(clock, nil)
	reg.UpsertTrack(registry.TrackUpdate{Track: tracks["T-0001"], Role: registry.RolePatient, CameraID: "cam-1"})
	require.NoError(t, reg.TagIdentity("T-0001", "P-001"))
	e, ok := reg.Entity("T-0001")
	require.True(t, ok)
	// (20, 20) on a 1280x720 frame lands at 100+10, 50+10 on the map
	assert.Equal(t, mot.NewPoint(110, 60), e.MapPosition)

	assert.NotNil(t, cfg.NewInteractionDetector(clock, nil))
	assert.Equal(t, 3*cfg.ReID.Bins, cfg.NewExtractor().Len())
	classifier := cfg.NewUniformClassifier()
	assert.Equal(t, cfg.Classifier.MinFraction, classifier.MinFraction)

	// Image-bearing frame: green scrubs read as staff
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{G: 160, A: 255}), image.Point{}, draw.Src)
	frame := pipeline.Frame{Image: img}
	box := mot.NewRect(50, 20, 60, 150)
	assert.Equal(t, registry.RoleStaff, classifier.Classify(frame, box))
	sig := pipeline.ImageExtractor{Extractor: cfg.NewExtractor()}.Extract(frame, box)
	assert.Len(t, sig, 3*cfg.ReID.Bins)
	assert.False(t, sig.IsZero())
}
