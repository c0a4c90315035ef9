package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
	"github.com/LdDl/carewatch/reid"
)

const defaultRetryDelay = 100 * time.Millisecond

// ProducerConfig wires producer components. Source, Detector, Tracker and Mailbox are required
type ProducerConfig struct {
	Source     Source
	Detector   Detector
	Classifier Classifier
	Extractor  Extractor
	Tracker    *mot.CentroidTracker
	Resolver   *reid.Resolver
	// Interactions may be nil to skip interaction detection
	Interactions *interaction.Detector
	Mailbox      *Mailbox
	Stats        *Stats
	// Pause after a failed read or detection
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Producer owns tracker, resolver and detector state. Run it from a single goroutine
type Producer struct {
	cfg    ProducerConfig
	logger *slog.Logger
	// Live tracks of the previous cycle
	previous map[string]struct{}
	// Last known role of every live track
	roles map[string]registry.Role
}

// NewProducer validates config and creates producer
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("producer: source is required")
	case cfg.Detector == nil:
		return nil, errors.New("producer: detector is required")
	case cfg.Tracker == nil:
		return nil, errors.New("producer: tracker is required")
	case cfg.Mailbox == nil:
		return nil, errors.New("producer: mailbox is required")
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}
	return &Producer{
		cfg:      cfg,
		logger:   logger.With("component", "producer"),
		previous: make(map[string]struct{}),
		roles:    make(map[string]registry.Role),
	}, nil
}

// Stats returns counters shared with the consumer
func (p *Producer) Stats() *Stats {
	return p.cfg.Stats
}

// Run opens the source and processes frames until ctx is done or the stream ends.
// The source is closed on every exit path. Transient failures never stop the loop.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.cfg.Source.Open(ctx); err != nil {
		return errors.Wrap(err, "open source")
	}
	p.logger.Info("source opened")
	defer func() {
		if err := p.cfg.Source.Close(); err != nil {
			p.logger.Warn("close source", "error", err)
			return
		}
		p.logger.Info("source closed")
	}()

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("producer stopped", "reason", err)
			return nil
		}
		frame, err := p.cfg.Source.Read(ctx)
		if errors.Is(err, ErrEndOfStream) {
			p.logger.Info("end of stream")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.cfg.Stats.captureFailures.Add(1)
			p.logger.Warn("read frame", "error", err)
			p.pause(ctx)
			continue
		}
		p.cfg.Stats.frames.Add(1)
		if err := p.Step(frame); err != nil {
			p.cfg.Stats.detectFailures.Add(1)
			p.logger.Warn("process frame", "seq", frame.Seq, "error", err)
			p.pause(ctx)
		}
	}
}

// Step runs a single cycle over frame and offers the result to the mailbox
func (p *Producer) Step(frame Frame) error {
	detections, err := p.cfg.Detector.Detect(frame)
	if err != nil {
		return errors.Wrapf(err, "detect frame %d", frame.Seq)
	}
	tracks := p.cfg.Tracker.Update(detections)

	ids := make([]string, 0, len(tracks))
	active := make(map[string]struct{}, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
		active[id] = struct{}{}
	}
	sort.Strings(ids)

	lost := make([]string, 0)
	for id := range p.previous {
		if _, ok := active[id]; !ok {
			lost = append(lost, id)
			delete(p.roles, id)
		}
	}
	sort.Strings(lost)
	p.previous = active
	if p.cfg.Resolver != nil {
		p.cfg.Resolver.Prune(active)
	}

	update := Update{
		Seq:      frame.Seq,
		CameraID: frame.CameraID,
		At:       frame.Captured,
		Tracks:   make([]registry.TrackUpdate, 0, len(ids)),
		Lost:     lost,
	}
	staff := make([]interaction.Participant, 0)
	patients := make([]interaction.Participant, 0)
	for _, id := range ids {
		track := tracks[id]
		role := p.roles[id]
		seen := track.MissedCycles == 0
		if seen && p.cfg.Classifier != nil {
			role = p.cfg.Classifier.Classify(frame, track.BBox)
			p.roles[id] = role
		}
		identityID := p.resolve(frame, track, role, seen)
		if seen {
			update.Tracks = append(update.Tracks, registry.TrackUpdate{
				Track:      track,
				Role:       role,
				IdentityID: identityID,
				CameraID:   frame.CameraID,
			})
		}
		participant := interaction.Participant{
			TrackID:    id,
			IdentityID: identityID,
			Centroid:   track.Centroid,
		}
		switch role {
		case registry.RoleStaff:
			staff = append(staff, participant)
		case registry.RolePatient:
			patients = append(patients, participant)
		}
	}
	if p.cfg.Interactions != nil {
		update.Interactions = p.cfg.Interactions.Update(staff, patients)
	}

	if p.cfg.Mailbox.Offer(update) {
		p.cfg.Stats.published.Add(1)
	}
	p.logger.Debug("cycle done", "seq", frame.Seq, "detections", len(detections), "tracks", len(tracks), "events", len(update.Interactions))
	return nil
}

// resolve returns identity of a non-staff track. Appearance is only sampled while track is seen
func (p *Producer) resolve(frame Frame, track mot.Track, role registry.Role, seen bool) string {
	if p.cfg.Resolver == nil || role == registry.RoleStaff {
		return ""
	}
	if !seen || p.cfg.Extractor == nil {
		identityID, _ := p.cfg.Resolver.Binding(track.ID)
		return identityID
	}
	sig := p.cfg.Extractor.Extract(frame, track.BBox)
	identityID, _ := p.cfg.Resolver.Resolve(track.ID, sig, track.Confidence)
	return identityID
}

func (p *Producer) pause(ctx context.Context) {
	timer := time.NewTimer(p.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
