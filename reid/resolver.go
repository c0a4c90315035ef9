package reid

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/internal/log"
	"github.com/LdDl/carewatch/internal/timeutil"
)

var (
	ErrEmptyIdentity  = errors.New("identity id is empty")
	ErrEmptySignature = errors.New("signature is empty")
)

// EnrollPolicy decides whether unmatched sightings create identities
type EnrollPolicy uint16

const (
	// EnrollExplicit keeps the gallery closed: only Enroll adds identities
	EnrollExplicit EnrollPolicy = iota
	// EnrollImplicit enrolls a confident unmatched sighting as a fresh identity
	EnrollImplicit
)

func (p EnrollPolicy) String() string {
	switch p {
	case EnrollExplicit:
		return "explicit"
	case EnrollImplicit:
		return "implicit"
	default:
		return fmt.Sprintf("EnrollPolicy(%d)", uint16(p))
	}
}

// ParseEnrollPolicy maps "explicit" and "implicit" to policy
func ParseEnrollPolicy(s string) (EnrollPolicy, error) {
	switch s {
	case "", "explicit":
		return EnrollExplicit, nil
	case "implicit":
		return EnrollImplicit, nil
	default:
		return EnrollExplicit, errors.Errorf("unknown enrollment policy %q", s)
	}
}

// Identity is a long-lived appearance identity held in the gallery
type Identity struct {
	ID          string
	Signature   Signature
	LastUpdated time.Time
	// Implicit identities were created from sightings and may be evicted when gallery is full
	Implicit bool
}

// Match is a confirmed gallery match
type Match struct {
	IdentityID string
	Similarity float64
}

// Resolver owns the identity gallery and the track to identity bindings.
// It is not safe for concurrent use.
type Resolver struct {
	threshold           float64
	ambiguityMargin     float64
	alpha               float64
	minEnrollConfidence float64
	maxIdentities       int
	policy              EnrollPolicy
	clock               timeutil.Clock
	logger              *slog.Logger

	gallery map[string]*Identity
	// trackID -> identityID
	bindings map[string]string
	// identityID -> trackID
	boundTracks map[string]string
}

// Option configures Resolver
type Option func(*Resolver)

// WithThreshold sets minimum cosine similarity of a match. Default 0.6
func WithThreshold(threshold float64) Option {
	return func(r *Resolver) {
		r.threshold = threshold
	}
}

// WithAmbiguityMargin sets minimum gap between best and runner-up similarity. Default 0.02
func WithAmbiguityMargin(margin float64) Option {
	return func(r *Resolver) {
		r.ambiguityMargin = margin
	}
}

// WithAlpha sets EMA weight of the stored signature. Default 0.9
func WithAlpha(alpha float64) Option {
	return func(r *Resolver) {
		r.alpha = alpha
	}
}

// WithEnrollPolicy sets enrollment policy. Default EnrollExplicit
func WithEnrollPolicy(policy EnrollPolicy) Option {
	return func(r *Resolver) {
		r.policy = policy
	}
}

// WithMinEnrollConfidence sets detection confidence required for implicit enrollment. Default 0.7
func WithMinEnrollConfidence(confidence float64) Option {
	return func(r *Resolver) {
		r.minEnrollConfidence = confidence
	}
}

// WithMaxIdentities bounds gallery growth. Default 256
func WithMaxIdentities(n int) Option {
	return func(r *Resolver) {
		r.maxIdentities = n
	}
}

// WithClock sets clock for LastUpdated stamps
func WithClock(clock timeutil.Clock) Option {
	return func(r *Resolver) {
		r.clock = clock
	}
}

// WithLogger sets logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates resolver with empty gallery
func NewResolver(options ...Option) *Resolver {
	r := &Resolver{
		threshold:           0.6,
		ambiguityMargin:     0.02,
		alpha:               0.9,
		minEnrollConfidence: 0.7,
		maxIdentities:       256,
		policy:              EnrollExplicit,
		clock:               timeutil.RealClock{},
		gallery:             make(map[string]*Identity),
		bindings:            make(map[string]string),
		boundTracks:         make(map[string]string),
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = log.L()
	}
	return r
}

// Enroll stores signature under id, overwriting any previous signature outright.
func (r *Resolver) Enroll(id string, sig Signature) error {
	if id == "" {
		return ErrEmptyIdentity
	}
	if len(sig) == 0 || sig.IsZero() {
		return errors.Wrapf(ErrEmptySignature, "enroll %s", id)
	}
	if _, exists := r.gallery[id]; !exists && len(r.gallery) >= r.maxIdentities {
		// Operator enrollment always succeeds, make room if an implicit identity can go
		r.evictImplicit()
	}
	r.gallery[id] = &Identity{
		ID:          id,
		Signature:   sig.Normalized(),
		LastUpdated: r.clock.Now(),
	}
	r.logger.Debug("identity enrolled", "identity", id)
	return nil
}

// Unenroll removes identity and any binding to it. Unknown id is a no-op.
func (r *Resolver) Unenroll(id string) {
	if _, ok := r.gallery[id]; !ok {
		return
	}
	delete(r.gallery, id)
	if trackID, ok := r.boundTracks[id]; ok {
		delete(r.bindings, trackID)
		delete(r.boundTracks, id)
	}
	r.logger.Debug("identity unenrolled", "identity", id)
}

// Has reports whether identity is enrolled
func (r *Resolver) Has(id string) bool {
	_, ok := r.gallery[id]
	return ok
}

// Len returns number of enrolled identities
func (r *Resolver) Len() int {
	return len(r.gallery)
}

// Enrolled returns copies of all identities sorted by id
func (r *Resolver) Enrolled() []Identity {
	out := make([]Identity, 0, len(r.gallery))
	for _, identity := range r.gallery {
		cp := *identity
		cp.Signature = identity.Signature.Clone()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Match compares signature against every enrolled identity.
// A confirmed match blends the signature into the stored one.
func (r *Resolver) Match(sig Signature) (Match, bool) {
	m, ok := r.bestMatch(sig, "")
	if !ok {
		return Match{}, false
	}
	r.absorb(m.IdentityID, sig)
	return m, true
}

// Resolve returns identity bound to track after observing signature for it.
//
// A bound track keeps its identity. Its stored signature is refreshed only when similarity
// reaches the threshold. An unbound track is matched against identities not held by other tracks.
func (r *Resolver) Resolve(trackID string, sig Signature, confidence float64) (string, bool) {
	if identityID, ok := r.bindings[trackID]; ok {
		if identity, ok := r.gallery[identityID]; ok {
			if !sig.IsZero() && CosineSimilarity(identity.Signature, sig) >= r.threshold {
				r.absorb(identityID, sig)
			}
			return identityID, true
		}
		r.unbind(trackID)
	}
	if len(sig) == 0 || sig.IsZero() {
		return "", false
	}

	if m, ok := r.bestMatch(sig, trackID); ok {
		r.absorb(m.IdentityID, sig)
		r.bind(trackID, m.IdentityID)
		return m.IdentityID, true
	}

	if r.policy != EnrollImplicit || confidence < r.minEnrollConfidence {
		return "", false
	}
	if len(r.gallery) >= r.maxIdentities && !r.evictImplicit() {
		r.logger.Warn("gallery full, sighting stays unidentified", "track", trackID, "max_identities", r.maxIdentities)
		return "", false
	}
	id := "ID-" + uuid.New().String()
	r.gallery[id] = &Identity{
		ID:          id,
		Signature:   sig.Normalized(),
		LastUpdated: r.clock.Now(),
		Implicit:    true,
	}
	r.bind(trackID, id)
	r.logger.Debug("identity enrolled implicitly", "identity", id, "track", trackID)
	return id, true
}

// Binding returns identity bound to track
func (r *Resolver) Binding(trackID string) (string, bool) {
	id, ok := r.bindings[trackID]
	return id, ok
}

// Prune drops bindings of tracks which are not active anymore
func (r *Resolver) Prune(active map[string]struct{}) {
	for trackID := range r.bindings {
		if _, ok := active[trackID]; !ok {
			r.unbind(trackID)
		}
	}
}

// bestMatch finds best identity over the gallery. Identities bound to a track other than forTrack
// are skipped when forTrack is not empty.
func (r *Resolver) bestMatch(sig Signature, forTrack string) (Match, bool) {
	if len(sig) == 0 || sig.IsZero() || len(r.gallery) == 0 {
		return Match{}, false
	}
	ids := make([]string, 0, len(r.gallery))
	for id := range r.gallery {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := Match{Similarity: math.Inf(-1)}
	second := math.Inf(-1)
	for _, id := range ids {
		if forTrack != "" {
			if holder, ok := r.boundTracks[id]; ok && holder != forTrack {
				continue
			}
		}
		sim := CosineSimilarity(r.gallery[id].Signature, sig)
		if sim > best.Similarity {
			second = best.Similarity
			best = Match{IdentityID: id, Similarity: sim}
		} else if sim > second {
			second = sim
		}
	}
	if best.IdentityID == "" || best.Similarity < r.threshold {
		return Match{}, false
	}
	if best.Similarity-second < r.ambiguityMargin {
		r.logger.Debug("ambiguous identity match rejected", "best", best.IdentityID, "similarity", best.Similarity, "runner_up", second)
		return Match{}, false
	}
	return best, true
}

func (r *Resolver) absorb(id string, sig Signature) {
	identity := r.gallery[id]
	identity.Signature = blend(identity.Signature, sig, r.alpha)
	identity.LastUpdated = r.clock.Now()
}

func (r *Resolver) bind(trackID, identityID string) {
	r.bindings[trackID] = identityID
	r.boundTracks[identityID] = trackID
}

func (r *Resolver) unbind(trackID string) {
	identityID, ok := r.bindings[trackID]
	if !ok {
		return
	}
	delete(r.bindings, trackID)
	if r.boundTracks[identityID] == trackID {
		delete(r.boundTracks, identityID)
	}
}

// evictImplicit removes least recently updated implicit identity that no track holds
func (r *Resolver) evictImplicit() bool {
	var victim *Identity
	for _, identity := range r.gallery {
		if !identity.Implicit {
			continue
		}
		if _, bound := r.boundTracks[identity.ID]; bound {
			continue
		}
		if victim == nil || identity.LastUpdated.Before(victim.LastUpdated) ||
			(identity.LastUpdated.Equal(victim.LastUpdated) && identity.ID < victim.ID) {
			victim = identity
		}
	}
	if victim == nil {
		return false
	}
	delete(r.gallery, victim.ID)
	r.logger.Debug("implicit identity evicted", "identity", victim.ID)
	return true
}
