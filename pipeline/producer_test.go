package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/internal/timeutil"
	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
	"github.com/LdDl/carewatch/reid"
)

var epoch = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// flakySource fails every read until cancelled
type flakySource struct {
	opens  atomic.Int32
	closes atomic.Int32
	reads  atomic.Int32
	openErr error
}

func (s *flakySource) Open(context.Context) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opens.Add(1)
	return nil
}

func (s *flakySource) Read(context.Context) (Frame, error) {
	s.reads.Add(1)
	return Frame{}, errors.New("device busy")
}

func (s *flakySource) Close() error {
	s.closes.Add(1)
	return nil
}

type nopDetector struct{}

func (nopDetector) Detect(Frame) ([]mot.Detection, error) { return nil, nil }

type recordingSink struct {
	mu     sync.Mutex
	events []interaction.Event
}

func (s *recordingSink) RecordInteraction(_ context.Context, event interaction.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

type failingSink struct{}

func (failingSink) RecordInteraction(context.Context, interaction.Event) error {
	return errors.New("disk full")
}

func TestProducerReleasesSource(t *testing.T) {
	t.Parallel()

	t.Run("transient failures keep the loop running until cancelled", func(t *testing.T) {
		t.Parallel()
		source := &flakySource{}
		stats := &Stats{}
		producer, err := NewProducer(ProducerConfig{
			Source:     source,
			Detector:   nopDetector{},
			Tracker:    mot.NewCentroidTracker(),
			Mailbox:    NewMailbox(1),
			Stats:      stats,
			RetryDelay: time.Millisecond,
			Logger:     log.Discard(),
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- producer.Run(ctx) }()
		require.Eventually(t, func() bool { return source.reads.Load() >= 5 }, 5*time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("producer did not stop")
		}
		assert.Equal(t, int32(1), source.opens.Load())
		assert.Equal(t, int32(1), source.closes.Load())
		assert.GreaterOrEqual(t, stats.Snapshot(nil).CaptureFailures, uint64(5))
	})

	t.Run("open failure is reported", func(t *testing.T) {
		t.Parallel()
		source := &flakySource{openErr: errors.New("no camera")}
		producer, err := NewProducer(ProducerConfig{
			Source:   source,
			Detector: nopDetector{},
			Tracker:  mot.NewCentroidTracker(),
			Mailbox:  NewMailbox(1),
			Logger:   log.Discard(),
		})
		require.NoError(t, err)
		err = producer.Run(context.Background())
		assert.ErrorContains(t, err, "no camera")
		assert.Zero(t, source.closes.Load())
	})

	t.Run("missing components", func(t *testing.T) {
		t.Parallel()
		_, err := NewProducer(ProducerConfig{Detector: nopDetector{}})
		assert.Error(t, err)
		_, err = NewConsumer(ConsumerConfig{})
		assert.Error(t, err)
	})
}

const replayScript = `
# staff and patient standing side by side
{"camera": "cam-ward", "boxes": [{"x1": 100, "y1": 100, "x2": 140, "y2": 200, "conf": 0.9, "role": "staff"}, {"x1": 150, "y1": 100, "x2": 190, "y2": 200, "conf": 0.9, "role": "patient", "signature": [1, 0, 0]}]}
{"camera": "cam-ward", "boxes": [{"x1": 100, "y1": 100, "x2": 140, "y2": 200, "conf": 0.9, "role": "staff"}, {"x1": 150, "y1": 100, "x2": 190, "y2": 200, "conf": 0.9, "role": "patient", "signature": [1, 0, 0]}]}
{"camera": "cam-ward", "boxes": [{"x1": 100, "y1": 100, "x2": 140, "y2": 200, "conf": 0.9, "role": "staff"}, {"x1": 150, "y1": 100, "x2": 190, "y2": 200, "conf": 0.9, "role": "patient", "signature": [1, 0, 0]}]}
{"camera": "cam-ward", "boxes": [{"x1": 100, "y1": 100, "x2": 140, "y2": 200, "conf": 0.9, "role": "staff"}, {"x1": 150, "y1": 100, "x2": 190, "y2": 200, "conf": 0.9, "role": "patient", "signature": [1, 0, 0]}]}
{"camera": "cam-ward", "boxes": [{"x1": 100, "y1": 100, "x2": 140, "y2": 200, "conf": 0.9, "role": "staff"}, {"x1": 150, "y1": 100, "x2": 190, "y2": 200, "conf": 0.9, "role": "patient", "signature": [1, 0, 0]}]}
{"camera": "cam-ward", "boxes": []}
{"camera": "cam-ward", "error": "capture"}
{"camera": "cam-ward", "error": "detect"}
`

func TestReplayEndToEnd(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	source := NewReplayReader(strings.NewReader(replayScript),
		WithReplayClock(clock),
		WithOnFrame(func(Frame) { clock.Advance(time.Second) }),
	)

	resolver := reid.NewResolver(reid.WithClock(clock), reid.WithLogger(log.Discard()))
	require.NoError(t, resolver.Enroll("P-001", reid.Signature{1, 0, 0}))
	interactions := interaction.NewDetector(interaction.DefaultConfig(), clock)
	interactions.SetLogger(log.Discard())

	mailbox := NewMailbox(100)
	stats := &Stats{}
	producer, err := NewProducer(ProducerConfig{
		Source:       source,
		Detector:     source,
		Classifier:   source,
		Extractor:    source,
		Tracker:      mot.NewCentroidTracker(mot.WithMaxMissed(0), mot.WithClock(clock)),
		Resolver:     resolver,
		Interactions: interactions,
		Mailbox:      mailbox,
		Stats:        stats,
		RetryDelay:   time.Millisecond,
		Logger:       log.Discard(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, producer.Run(ctx))
	assert.False(t, source.Opened(), "source must be closed at end of stream")
	mailbox.Close()

	reg := registry.New(
		registry.WithClock(clock),
		registry.WithLogger(log.Discard()),
		registry.WithConfig(registry.Config{GhostTimeout: time.Hour, PurgeTimeout: 2 * time.Hour}),
	)
	sink := &recordingSink{}
	consumer, err := NewConsumer(ConsumerConfig{
		Registry:    reg,
		Mailbox:     mailbox,
		Sinks:       []EventSink{failingSink{}, sink},
		Stats:       stats,
		PollTimeout: 10 * time.Millisecond,
		Logger:      log.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Run(ctx))

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "T-0001", event.StaffTrackID)
	assert.Equal(t, "T-0002", event.PatientTrackID)
	assert.Equal(t, "P-001", event.PatientIdentityID)
	assert.Equal(t, 3*time.Second, event.Duration)

	entities := reg.ListEntities()
	require.Len(t, entities, 2)
	byTrack := map[string]registry.Entity{}
	for _, e := range entities {
		byTrack[e.TrackID] = e
	}
	assert.Equal(t, registry.RoleStaff, byTrack["T-0001"].Role)
	assert.Equal(t, registry.RolePatient, byTrack["T-0002"].Role)
	// Eviction ends the binding, the ghost keeps its interaction stamp only
	assert.Empty(t, byTrack["T-0002"].IdentityID)
	assert.Equal(t, "cam-ward", byTrack["T-0002"].CameraID)
	assert.True(t, byTrack["T-0001"].Ghost, "evicted tracks are ghosts")
	assert.True(t, byTrack["T-0002"].Ghost)
	assert.Equal(t, epoch.Add(4*time.Second), byTrack["T-0002"].LastInteraction)

	snap := stats.Snapshot(mailbox)
	assert.Equal(t, uint64(7), snap.Frames)
	assert.Equal(t, uint64(1), snap.CaptureFailures)
	assert.Equal(t, uint64(1), snap.DetectFailures)
	assert.Equal(t, uint64(6), snap.Published)
	assert.Equal(t, uint64(6), snap.Applied)
	assert.Equal(t, uint64(1), snap.SinkFailures)
	assert.Zero(t, snap.Dropped)
}

func TestProducerStepTrackRoles(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	source := NewReplayReader(strings.NewReader(`{"boxes": [{"x1": 0, "y1": 0, "x2": 40, "y2": 80, "conf": 0.9, "role": "patient"}]}
{"boxes": []}`), WithReplayClock(clock))
	mailbox := NewMailbox(10)
	producer, err := NewProducer(ProducerConfig{
		Source:     source,
		Detector:   source,
		Classifier: source,
		Tracker:    mot.NewCentroidTracker(mot.WithClock(clock)),
		Mailbox:    mailbox,
		Logger:     log.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, producer.Run(context.Background()))

	first, ok := mailbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	require.Len(t, first.Tracks, 1)
	assert.Equal(t, "cam-0", first.CameraID)
	assert.Equal(t, registry.RolePatient, first.Tracks[0].Role)

	// Missed track is not refreshed in the registry
	second, ok := mailbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Empty(t, second.Tracks)
	assert.Empty(t, second.Lost)
}
