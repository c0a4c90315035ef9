// Package interaction detects sustained staff/patient proximity.
package interaction

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/mot"
)

// Participant is a current track of one role
type Participant struct {
	TrackID    string
	IdentityID string
	Centroid   mot.Point
}

// Proximity is an open proximity episode between a staff and a patient track
type Proximity struct {
	StaffTrackID   string
	PatientTrackID string
	StartTime      time.Time
	LastSeenClose  time.Time
	// Emitted is set once the episode produced its event
	Emitted bool
}

// Event is an interaction confirmed after sustained proximity
type Event struct {
	ID                string
	StaffTrackID      string
	PatientTrackID    string
	StaffIdentityID   string
	PatientIdentityID string
	Start             time.Time
	At                time.Time
	Duration          time.Duration
}

// Config holds detector thresholds
type Config struct {
	// Distance in pixels below which a pair is close
	Distance float64
	// Duration of continuous proximity required for an event
	Duration time.Duration
}

// DefaultConfig returns 100px / 3s
func DefaultConfig() Config {
	return Config{
		Distance: 100,
		Duration: 3 * time.Second,
	}
}

type pairKey struct {
	staff   string
	patient string
}

// Detector keeps one proximity state machine per staff/patient pair. Not safe for concurrent use.
type Detector struct {
	cfg      Config
	clock    timeutil.Clock
	logger   *slog.Logger
	episodes map[pairKey]*Proximity
}

// NewDetector creates detector. Nil clock means wall clock
func NewDetector(cfg Config, clock timeutil.Clock) *Detector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Detector{
		cfg:      cfg,
		clock:    clock,
		logger:   log.L(),
		episodes: make(map[pairKey]*Proximity),
	}
}

// SetLogger replaces logger
func (d *Detector) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// Update advances every pair by one cycle and returns events confirmed in it.
//
// A pair closer than Distance opens an episode. The episode emits exactly one event once it
// lasted Duration and re-arms only after the pair separates.
func (d *Detector) Update(staff, patients []Participant) []Event {
	now := d.clock.Now()
	staff = sortedParticipants(staff)
	patients = sortedParticipants(patients)

	present := make(map[pairKey]struct{}, len(staff)*len(patients))
	events := make([]Event, 0)
	for _, s := range staff {
		for _, p := range patients {
			key := pairKey{staff: s.TrackID, patient: p.TrackID}
			present[key] = struct{}{}
			dist := mot.EuclideanDistance(s.Centroid, p.Centroid)
			episode, open := d.episodes[key]
			if dist >= d.cfg.Distance {
				if open {
					delete(d.episodes, key)
				}
				continue
			}
			if !open {
				d.episodes[key] = &Proximity{
					StaffTrackID:   s.TrackID,
					PatientTrackID: p.TrackID,
					StartTime:      now,
					LastSeenClose:  now,
				}
				continue
			}
			episode.LastSeenClose = now
			elapsed := now.Sub(episode.StartTime)
			if episode.Emitted || elapsed < d.cfg.Duration {
				continue
			}
			episode.Emitted = true
			event := Event{
				ID:                uuid.New().String(),
				StaffTrackID:      s.TrackID,
				PatientTrackID:    p.TrackID,
				StaffIdentityID:   s.IdentityID,
				PatientIdentityID: p.IdentityID,
				Start:             episode.StartTime,
				At:                now,
				Duration:          elapsed,
			}
			d.logger.Info("interaction confirmed", "staff", s.TrackID, "patient", p.TrackID, "duration", elapsed)
			events = append(events, event)
		}
	}

	// Track lost mid-interaction
	for key := range d.episodes {
		if _, ok := present[key]; !ok {
			delete(d.episodes, key)
		}
	}
	return events
}

// Active returns open episodes sorted by staff then patient track
func (d *Detector) Active() []Proximity {
	out := make([]Proximity, 0, len(d.episodes))
	for _, episode := range d.episodes {
		out = append(out, *episode)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StaffTrackID != out[j].StaffTrackID {
			return out[i].StaffTrackID < out[j].StaffTrackID
		}
		return out[i].PatientTrackID < out[j].PatientTrackID
	})
	return out
}

// Reset drops every episode
func (d *Detector) Reset() {
	d.episodes = make(map[pairKey]*Proximity)
}

func sortedParticipants(in []Participant) []Participant {
	out := make([]Participant, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		return out[i].TrackID < out[j].TrackID
	})
	return out
}
