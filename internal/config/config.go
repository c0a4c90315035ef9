// Package config loads carewatch settings from YAML.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/LdDl/carewatch/pipeline"
)

type Config struct {
	Tracker     TrackerConfig     `yaml:"tracker"`
	ReID        ReIDConfig        `yaml:"reid"`
	Interaction InteractionConfig `yaml:"interaction"`
	Registry    RegistryConfig    `yaml:"registry"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Store       StoreConfig       `yaml:"store"`
	Zones       []ZoneConfig      `yaml:"zones"`
	// Known patient identities, tags are validated against them
	Patients []string  `yaml:"patients"`
	Log      LogConfig `yaml:"log"`
}

type TrackerConfig struct {
	MaxDistance float64 `yaml:"max_distance"`
	MaxMissed   int     `yaml:"max_missed"`
	Matching    string  `yaml:"matching"` // greedy or hungarian
	Prediction  bool    `yaml:"prediction"`
	TimeStep    float64 `yaml:"time_step"`
	// Duplicate detections overlapping above this IoU are dropped, 0 disables
	SuppressIoU float64 `yaml:"suppress_iou"`
}

type ReIDConfig struct {
	Bins                int            `yaml:"bins"`
	Threshold           float64        `yaml:"threshold"`
	AmbiguityMargin     float64        `yaml:"ambiguity_margin"`
	Alpha               float64        `yaml:"alpha"`
	Enrollment          string         `yaml:"enrollment"` // explicit or implicit
	MinEnrollConfidence float64        `yaml:"min_enroll_confidence"`
	MaxIdentities       int            `yaml:"max_identities"`
	Gallery             []GalleryEntry `yaml:"gallery"`
}

// GalleryEntry is an identity enrolled at startup
type GalleryEntry struct {
	ID        string    `yaml:"id"`
	Signature []float64 `yaml:"signature"`
}

type InteractionConfig struct {
	Distance float64       `yaml:"distance"`
	Duration time.Duration `yaml:"duration"`
}

type RegistryConfig struct {
	GhostTimeout    time.Duration `yaml:"ghost_timeout"`
	PurgeTimeout    time.Duration `yaml:"purge_timeout"`
	SafeThreshold   time.Duration `yaml:"safe_threshold"`
	AtRiskThreshold time.Duration `yaml:"at_risk_threshold"`
	SafeWeight      float64       `yaml:"safe_weight"`
	AtRiskWeight    float64       `yaml:"at_risk_weight"`
	CriticalWeight  float64       `yaml:"critical_weight"`
}

type PipelineConfig struct {
	MailboxSize    int           `yaml:"mailbox_size"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
	Camera         string        `yaml:"camera"` // default camera of replay lines
}

type ClassifierConfig struct {
	Staff       pipeline.HSVRange `yaml:"staff"`
	Patient     pipeline.HSVRange `yaml:"patient"`
	MinFraction float64           `yaml:"min_fraction"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

type ZoneConfig struct {
	Camera      string  `yaml:"camera"`
	Name        string  `yaml:"name"`
	MapX        float64 `yaml:"map_x"`
	MapY        float64 `yaml:"map_y"`
	MapWidth    float64 `yaml:"map_width"`
	MapHeight   float64 `yaml:"map_height"`
	FrameWidth  float64 `yaml:"frame_width"`
	FrameHeight float64 `yaml:"frame_height"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns configuration every loaded file is overlaid on
func Default() *Config {
	uniform := pipeline.DefaultUniformClassifier()
	return &Config{
		Tracker: TrackerConfig{
			MaxDistance: 80,
			MaxMissed:   15,
			Matching:    "greedy",
			TimeStep:    1.0,
		},
		ReID: ReIDConfig{
			Bins:                32,
			Threshold:           0.6,
			AmbiguityMargin:     0.02,
			Alpha:               0.9,
			Enrollment:          "explicit",
			MinEnrollConfidence: 0.7,
			MaxIdentities:       256,
		},
		Interaction: InteractionConfig{
			Distance: 100,
			Duration: 3 * time.Second,
		},
		Registry: RegistryConfig{
			GhostTimeout:    30 * time.Second,
			PurgeTimeout:    5 * time.Minute,
			SafeThreshold:   300 * time.Second,
			AtRiskThreshold: 900 * time.Second,
			SafeWeight:      0,
			AtRiskWeight:    50,
			CriticalWeight:  100,
		},
		Pipeline: PipelineConfig{
			MailboxSize: 10,
			RetryDelay:  100 * time.Millisecond,
			PollTimeout: 200 * time.Millisecond,
			Camera:      "cam-0",
		},
		Classifier: ClassifierConfig{
			Staff:       uniform.Staff,
			Patient:     uniform.Patient,
			MinFraction: uniform.MinFraction,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load overlays YAML file on defaults, then environment overrides, and validates the result.
// Empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CAREWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CAREWATCH_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CAREWATCH_DB"); v != "" {
		c.Store.Path = v
	}
}
