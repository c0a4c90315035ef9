package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/LdDl/carewatch/mot"
)

// Role of a tracked person
type Role uint8

const (
	RoleUnknown Role = iota
	RoleStaff
	RolePatient
)

func (r Role) String() string {
	switch r {
	case RoleUnknown:
		return "unknown"
	case RoleStaff:
		return "staff"
	case RolePatient:
		return "patient"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// ParseRole is case-insensitive. Empty string is RoleUnknown
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return RoleUnknown, nil
	case "staff":
		return RoleStaff, nil
	case "patient":
		return RolePatient, nil
	default:
		return RoleUnknown, errors.Errorf("unknown role %q", s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RiskLevel is the discretized neglect state of a patient
type RiskLevel uint8

const (
	// RiskNone is reported for everyone who is not a patient
	RiskNone RiskLevel = iota
	RiskSafe
	RiskAtRisk
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskNone:
		return "none"
	case RiskSafe:
		return "safe"
	case RiskAtRisk:
		return "at_risk"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("RiskLevel(%d)", uint8(l))
	}
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// TrackUpdate is a single producer observation of a track
type TrackUpdate struct {
	Track      mot.Track
	Role       Role
	IdentityID string
	CameraID   string
}

// Entity is a snapshot of a tracked person. Risk and Priority are derived at read time
type Entity struct {
	TrackID         string
	IdentityID      string
	Tagged          bool
	Role            Role
	CameraID        string
	Position        mot.Point
	MapPosition     mot.Point
	BBox            mot.Rectangle
	FirstSeen       time.Time
	LastSeen        time.Time
	LastInteraction time.Time
	Ghost           bool
	Risk            RiskLevel
	Priority        float64
}

// Identified reports whether entity has an identity
func (e Entity) Identified() bool {
	return e.IdentityID != ""
}

// Stats is an aggregate view of the registry
type Stats struct {
	Total           int
	Identified      int
	Unidentified    int
	Staff           int
	Patients        int
	Ghosts          int
	SafeLocated     int
	AtRiskLocated   int
	CriticalLocated int
}
