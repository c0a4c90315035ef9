// Package registry is the concurrently readable source of truth about tracked people.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/mot"
)

var (
	ErrUnknownTrack    = errors.New("unknown track")
	ErrUnknownIdentity = errors.New("unknown patient identity")
	ErrIdentityInUse   = errors.New("identity is held by another live entity")
)

// Config holds staleness timeouts
type Config struct {
	// Entity not seen for GhostTimeout is flagged as ghost
	GhostTimeout time.Duration
	// Entity not seen for PurgeTimeout is removed together with its tag
	PurgeTimeout time.Duration
}

// DefaultConfig returns 30s ghost and 5m purge timeouts
func DefaultConfig() Config {
	return Config{
		GhostTimeout: 30 * time.Second,
		PurgeTimeout: 5 * time.Minute,
	}
}

type record struct {
	trackID string
	// Identity bound by the resolver, a tag takes precedence
	boundIdentity   string
	role            Role
	cameraID        string
	position        mot.Point
	mapPosition     mot.Point
	bbox            mot.Rectangle
	firstSeen       time.Time
	lastSeen        time.Time
	lastInteraction time.Time
	ghost           bool
}

// Registry merges tracker, resolver and detector output into entity records.
// Every method is safe for concurrent use. Derived values are computed on read.
type Registry struct {
	mu sync.Mutex

	cfg       Config
	policy    Policy
	directory Directory
	floorPlan *FloorPlan
	clock     timeutil.Clock
	logger    *slog.Logger

	entities map[string]*record
	// trackID -> patientID
	tags map[string]string
	// patientID -> trackID
	tagOwners map[string]string
	// identityID -> trackID of the record carrying it as binding
	boundOwners map[string]string
	// identityID -> last interaction. Survives track re-creation
	identityInteractions map[string]time.Time
}

// Option configures Registry
type Option func(*Registry)

// WithConfig sets timeouts
func WithConfig(cfg Config) Option {
	return func(r *Registry) {
		r.cfg = cfg
	}
}

// WithPolicy sets scoring policy
func WithPolicy(policy Policy) Option {
	return func(r *Registry) {
		r.policy = policy
	}
}

// WithDirectory sets patient directory used to validate tags
func WithDirectory(directory Directory) Option {
	return func(r *Registry) {
		r.directory = directory
	}
}

// WithFloorPlan sets camera to map conversion
func WithFloorPlan(floorPlan *FloorPlan) Option {
	return func(r *Registry) {
		r.floorPlan = floorPlan
	}
}

// WithClock sets clock
func WithClock(clock timeutil.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates empty registry
func New(options ...Option) *Registry {
	r := &Registry{
		cfg:                  DefaultConfig(),
		policy:               DefaultPolicy(),
		directory:            NewStaticDirectory(),
		floorPlan:            NewFloorPlan(),
		clock:                timeutil.RealClock{},
		entities:             make(map[string]*record),
		tags:                 make(map[string]string),
		tagOwners:            make(map[string]string),
		boundOwners:          make(map[string]string),
		identityInteractions: make(map[string]time.Time),
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = log.L()
	}
	return r
}

// UpsertTrack creates or refreshes entity of a track
func (r *Registry) UpsertTrack(update TrackUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(update, r.clock.Now())
}

// Apply upserts a batch of tracks and flags lost ones in a single critical section
func (r *Registry) Apply(updates []TrackUpdate, lost []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, update := range updates {
		r.upsertLocked(update, now)
	}
	r.markLostLocked(lost)
}

func (r *Registry) upsertLocked(update TrackUpdate, now time.Time) {
	id := update.Track.ID
	rec, ok := r.entities[id]
	if !ok {
		rec = &record{
			trackID:   id,
			firstSeen: now,
		}
		r.entities[id] = rec
		r.logger.Debug("entity created", "track", id, "role", update.Role)
	}
	r.bindLocked(rec, update.IdentityID)
	rec.role = update.Role
	rec.cameraID = update.CameraID
	rec.position = update.Track.Centroid
	rec.mapPosition = r.floorPlan.ToMap(update.CameraID, update.Track.Centroid)
	rec.bbox = update.Track.BBox
	rec.lastSeen = now
	rec.ghost = false
}

// bindLocked sets binding of rec, taking the identity away from any other record holding it
func (r *Registry) bindLocked(rec *record, identityID string) {
	if rec.boundIdentity == identityID {
		return
	}
	r.unbindLocked(rec)
	if identityID == "" {
		return
	}
	if owner, ok := r.boundOwners[identityID]; ok {
		if prev, ok := r.entities[owner]; ok {
			prev.boundIdentity = ""
		}
	}
	rec.boundIdentity = identityID
	r.boundOwners[identityID] = rec.trackID
}

func (r *Registry) unbindLocked(rec *record) {
	if rec.boundIdentity == "" {
		return
	}
	if r.boundOwners[rec.boundIdentity] == rec.trackID {
		delete(r.boundOwners, rec.boundIdentity)
	}
	rec.boundIdentity = ""
}

func (r *Registry) untagLocked(trackID string) bool {
	patientID, ok := r.tags[trackID]
	if !ok {
		return false
	}
	delete(r.tags, trackID)
	if r.tagOwners[patientID] == trackID {
		delete(r.tagOwners, patientID)
	}
	return true
}

func (r *Registry) deleteLocked(trackID string) {
	if rec, ok := r.entities[trackID]; ok {
		r.unbindLocked(rec)
	}
	r.untagLocked(trackID)
	delete(r.entities, trackID)
}

// MarkLost flags entities as ghosts right away and drops their resolver binding,
// the tracker does not hold the track anymore. Unknown ids are ignored
func (r *Registry) MarkLost(trackIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markLostLocked(trackIDs)
}

func (r *Registry) markLostLocked(trackIDs []string) {
	for _, id := range trackIDs {
		if rec, ok := r.entities[id]; ok {
			rec.ghost = true
			r.unbindLocked(rec)
		}
	}
}

// Remove drops entity and its tag
func (r *Registry) Remove(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(trackID)
}

// RecordInteraction stamps both participants and the patient identity.
// It returns event with participant identities as the registry sees them (tag first, then binding).
func (r *Registry) RecordInteraction(event interaction.Event) interaction.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, trackID := range []string{event.StaffTrackID, event.PatientTrackID} {
		if rec, ok := r.entities[trackID]; ok && event.At.After(rec.lastInteraction) {
			rec.lastInteraction = event.At
		}
	}
	identities := []string{event.PatientIdentityID}
	if rec, ok := r.entities[event.PatientTrackID]; ok {
		if identityID := r.identityLocked(rec); identityID != "" {
			event.PatientIdentityID = identityID
			identities = append(identities, identityID)
		}
	}
	if rec, ok := r.entities[event.StaffTrackID]; ok {
		if identityID := r.identityLocked(rec); identityID != "" {
			event.StaffIdentityID = identityID
		}
	}
	for _, identityID := range identities {
		if identityID == "" {
			continue
		}
		if event.At.After(r.identityInteractions[identityID]) {
			r.identityInteractions[identityID] = event.At
		}
	}
	return event
}

// RestoreInteraction seeds last interaction of a patient identity, e.g. from persisted history
func (r *Registry) RestoreInteraction(identityID string, at time.Time) {
	if identityID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if at.After(r.identityInteractions[identityID]) {
		r.identityInteractions[identityID] = at
	}
}

// TagIdentity links track to a known patient. A tag held by a ghost entity moves to track,
// a patient shown by another live entity is refused with ErrIdentityInUse. On failure nothing changes
func (r *Registry) TagIdentity(trackID, patientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[trackID]; !ok {
		return errors.Wrapf(ErrUnknownTrack, "tag %s", trackID)
	}
	if patientID == "" || r.directory == nil || !r.directory.Contains(patientID) {
		return errors.Wrapf(ErrUnknownIdentity, "tag %s with %q", trackID, patientID)
	}
	tagOwner, tagHeld := r.tagOwners[patientID]
	tagHeld = tagHeld && tagOwner != trackID
	if tagHeld && !r.entities[tagOwner].ghost {
		return errors.Wrapf(ErrIdentityInUse, "tag %s with %s, tagged on %s", trackID, patientID, tagOwner)
	}
	if owner, ok := r.boundOwners[patientID]; ok && owner != trackID && !tagHeld {
		if rec := r.entities[owner]; !rec.ghost {
			return errors.Wrapf(ErrIdentityInUse, "tag %s with %s, bound to %s", trackID, patientID, owner)
		}
	}
	if tagHeld {
		r.untagLocked(tagOwner)
		r.logger.Info("tag moved", "from", tagOwner, "to", trackID, "patient", patientID)
	}
	r.untagLocked(trackID)
	r.tags[trackID] = patientID
	r.tagOwners[patientID] = trackID
	r.logger.Info("track tagged", "track", trackID, "patient", patientID)
	return nil
}

// Untag removes tag of track. Entity falls back to resolver binding
func (r *Registry) Untag(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.untagLocked(trackID) {
		return
	}
	r.logger.Info("track untagged", "track", trackID)
}

// Entity returns snapshot of a single entity
func (r *Registry) Entity(trackID string) (Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.sweepLocked(now)
	rec, ok := r.entities[trackID]
	if !ok {
		return Entity{}, false
	}
	return r.snapshotLocked(rec, now), true
}

// ListEntities sweeps stale entities and returns snapshots ordered by priority (highest first), then track id
func (r *Registry) ListEntities() []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.sweepLocked(now)
	out := make([]Entity, 0, len(r.entities))
	for _, rec := range r.entities {
		out = append(out, r.snapshotLocked(rec, now))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].TrackID < out[j].TrackID
	})
	return out
}

// Stats sweeps stale entities and returns aggregate counts
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.sweepLocked(now)
	var stats Stats
	for _, rec := range r.entities {
		e := r.snapshotLocked(rec, now)
		stats.Total++
		if e.Identified() {
			stats.Identified++
		} else {
			stats.Unidentified++
		}
		if e.Ghost {
			stats.Ghosts++
		}
		switch e.Role {
		case RoleStaff:
			stats.Staff++
		case RolePatient:
			stats.Patients++
		}
		if e.Role != RolePatient || !e.Identified() || e.Ghost {
			continue
		}
		switch e.Risk {
		case RiskSafe:
			stats.SafeLocated++
		case RiskAtRisk:
			stats.AtRiskLocated++
		case RiskCritical:
			stats.CriticalLocated++
		}
	}
	return stats
}

// Len returns number of entities without sweeping
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

func (r *Registry) sweepLocked(now time.Time) {
	for id, rec := range r.entities {
		idle := now.Sub(rec.lastSeen)
		if idle > r.cfg.PurgeTimeout {
			r.deleteLocked(id)
			r.logger.Debug("entity purged", "track", id, "idle", idle)
			continue
		}
		if idle > r.cfg.GhostTimeout && !rec.ghost {
			rec.ghost = true
			r.logger.Debug("entity ghosted", "track", id, "idle", idle)
		}
	}
}

func (r *Registry) identityLocked(rec *record) string {
	if tag, ok := r.tags[rec.trackID]; ok {
		return tag
	}
	// A tag elsewhere wins over the binding
	if owner, ok := r.tagOwners[rec.boundIdentity]; ok && owner != rec.trackID {
		return ""
	}
	return rec.boundIdentity
}

func (r *Registry) snapshotLocked(rec *record, now time.Time) Entity {
	_, tagged := r.tags[rec.trackID]
	e := Entity{
		TrackID:         rec.trackID,
		IdentityID:      r.identityLocked(rec),
		Tagged:          tagged,
		Role:            rec.role,
		CameraID:        rec.cameraID,
		Position:        rec.position,
		MapPosition:     rec.mapPosition,
		BBox:            rec.bbox,
		FirstSeen:       rec.firstSeen,
		LastSeen:        rec.lastSeen,
		LastInteraction: rec.lastInteraction,
		Ghost:           rec.ghost,
		Risk:            RiskNone,
	}
	// A tagged person is a registered patient whatever the classifier said
	if tagged {
		e.Role = RolePatient
	}
	if e.IdentityID != "" {
		if at, ok := r.identityInteractions[e.IdentityID]; ok && at.After(e.LastInteraction) {
			e.LastInteraction = at
		}
	}
	if e.Role != RolePatient {
		return e
	}
	since := e.LastInteraction
	if since.IsZero() {
		since = e.FirstSeen
	}
	e.Risk, e.Priority = r.policy.Score(now.Sub(since))
	return e
}
