package pipeline

import (
	"sync/atomic"
)

// Stats counts pipeline activity. Safe for concurrent use
type Stats struct {
	frames          atomic.Uint64
	captureFailures atomic.Uint64
	detectFailures  atomic.Uint64
	published       atomic.Uint64
	applied         atomic.Uint64
	sinkFailures    atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Frames          uint64
	CaptureFailures uint64
	DetectFailures  uint64
	Published       uint64
	Dropped         uint64
	Applied         uint64
	SinkFailures    uint64
}

// Snapshot reads every counter. Dropped comes from the mailbox
func (s *Stats) Snapshot(mailbox *Mailbox) StatsSnapshot {
	snap := StatsSnapshot{
		Frames:          s.frames.Load(),
		CaptureFailures: s.captureFailures.Load(),
		DetectFailures:  s.detectFailures.Load(),
		Published:       s.published.Load(),
		Applied:         s.applied.Load(),
		SinkFailures:    s.sinkFailures.Load(),
	}
	if mailbox != nil {
		snap.Dropped = mailbox.Dropped()
	}
	return snap
}
