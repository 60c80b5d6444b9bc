package tray

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateAvailable    State = "available"
	StateOccupied     State = "occupied"
	StateMaintenance  State = "maintenance"
	StateOutOfService State = "out_of_service"
)

var validStates = map[State]bool{
	StateAvailable:    true,
	StateOccupied:     true,
	StateMaintenance:  true,
	StateOutOfService: true,
}

// Tray is one physical storage slot. CaseID is set iff State is occupied.
// The release stamps survive until the next assignment overwrites them;
// Occupancy rows keep the full history.
type Tray struct {
	ID         uuid.UUID  `json:"id"`
	Code       string     `json:"code"`
	State      State      `json:"state"`
	Notes      string     `json:"notes,omitempty"`
	CaseID     *uuid.UUID `json:"case_id,omitempty"`
	AssignedBy *string    `json:"assigned_by,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	ReleasedBy *string    `json:"released_by,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OccupiedFor is the time since assignment, or zero when not occupied.
func (t *Tray) OccupiedFor(now time.Time) time.Duration {
	if t.State != StateOccupied || t.AssignedAt == nil || now.Before(*t.AssignedAt) {
		return 0
	}
	return now.Sub(*t.AssignedAt)
}

type ReleaseKind string

const (
	ReleaseNormal ReleaseKind = "normal"
	ReleaseManual ReleaseKind = "manual"
)

// Occupancy records one assignment of a case to a tray and, once closed,
// how it ended.
type Occupancy struct {
	ID                 uuid.UUID    `json:"id"`
	TrayID             uuid.UUID    `json:"tray_id"`
	CaseID             uuid.UUID    `json:"case_id"`
	AssignedBy         string       `json:"assigned_by"`
	AssignedAt         time.Time    `json:"assigned_at"`
	AssignNotes        string       `json:"assign_notes,omitempty"`
	ReleasedBy         *string      `json:"released_by,omitempty"`
	ReleasedAt         *time.Time   `json:"released_at,omitempty"`
	ReleaseKind        *ReleaseKind `json:"release_kind,omitempty"`
	ReleaseNotes       string       `json:"release_notes,omitempty"`
	ManualReason       string       `json:"manual_reason,omitempty"`
	ManualObservations string       `json:"manual_observations,omitempty"`
}

// Closure describes how an occupancy ends.
type Closure struct {
	By           string
	At           time.Time
	Kind         ReleaseKind
	Notes        string
	Reason       string
	Observations string
}

type AlertLevel string

const (
	AlertNone     AlertLevel = "none"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Thresholds are the occupied-time alert boundaries.
type Thresholds struct {
	Warn     time.Duration
	Critical time.Duration
}

var DefaultThresholds = Thresholds{Warn: 24 * time.Hour, Critical: 48 * time.Hour}

// Level classifies an occupied duration. Boundaries are exclusive: a tray
// occupied for exactly Warn is not yet alerted.
func (th Thresholds) Level(d time.Duration) AlertLevel {
	switch {
	case d > th.Critical:
		return AlertCritical
	case d > th.Warn:
		return AlertWarning
	default:
		return AlertNone
	}
}

// View is a tray with its occupancy duration and alert level derived at
// query time.
type View struct {
	*Tray
	OccupiedFor     string     `json:"occupied_for,omitempty"`
	OccupiedSeconds int64      `json:"occupied_seconds"`
	AlertLevel      AlertLevel `json:"alert_level"`
}

func NewView(t *Tray, now time.Time, th Thresholds) View {
	v := View{Tray: t, AlertLevel: AlertNone}
	if t.State == StateOccupied {
		d := t.OccupiedFor(now)
		v.OccupiedFor = d.Truncate(time.Second).String()
		v.OccupiedSeconds = int64(d / time.Second)
		v.AlertLevel = th.Level(d)
	}
	return v
}

// Statistics aggregates the tray pool at one instant.
type Statistics struct {
	Total            int       `json:"total"`
	Available        int       `json:"available"`
	Occupied         int       `json:"occupied"`
	Maintenance      int       `json:"maintenance"`
	OutOfService     int       `json:"out_of_service"`
	OccupancyPercent float64   `json:"occupancy_percent"`
	OverWarn         int       `json:"occupied_over_warn"`
	OverCritical     int       `json:"occupied_over_critical"`
	WarnAfter        string    `json:"warn_after"`
	CriticalAfter    string    `json:"critical_after"`
	ComputedAt       time.Time `json:"computed_at"`
}

// ComputeStatistics counts trays per state and the occupied trays past each
// threshold at now. OverWarn includes trays that are also over critical.
func ComputeStatistics(trays []*Tray, now time.Time, th Thresholds) Statistics {
	s := Statistics{
		Total:         len(trays),
		WarnAfter:     th.Warn.String(),
		CriticalAfter: th.Critical.String(),
		ComputedAt:    now,
	}
	for _, t := range trays {
		switch t.State {
		case StateAvailable:
			s.Available++
		case StateOccupied:
			s.Occupied++
			d := t.OccupiedFor(now)
			if d > th.Warn {
				s.OverWarn++
			}
			if d > th.Critical {
				s.OverCritical++
			}
		case StateMaintenance:
			s.Maintenance++
		case StateOutOfService:
			s.OutOfService++
		}
	}
	if s.Total > 0 {
		s.OccupancyPercent = float64(s.Occupied) / float64(s.Total) * 100
	}
	return s
}
