package epp

import (
	"time"

	"github.com/google/uuid"
)

// DetectionEvent is one record of the detection feed.
type DetectionEvent struct {
	Timestamp string   `json:"timestamp,omitempty"`
	Fecha     string   `json:"fecha,omitempty"`
	Canal     string   `json:"canal,omitempty"`
	Detected  []string `json:"detected"`
	Missing   []string `json:"missing"`
	Image     string   `json:"image,omitempty"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Label string `json:"label,omitempty"`
	Count int    `json:"count"`
}

type AggregateStats struct {
	ReferenceDay   string           `json:"reference_day,omitempty"`
	ViolationCount int              `json:"violation_count"`
	ProcessedCount int              `json:"processed_count"`
	CompliancePct  int              `json:"compliance_pct"`
	TopMissingTags []TagCount       `json:"top_missing_tags"`
	RecentEvents   []DetectionEvent `json:"recent_events"`
}

type DayCompliance struct {
	Date           string `json:"date"`
	ProcessedCount int    `json:"processed_count"`
	ViolationCount int    `json:"violation_count"`
	CompliantCount int    `json:"compliant_count"`
	CompliancePct  int    `json:"compliance_pct"`
}

type HourViolations struct {
	Hour           int `json:"hour"`
	ProcessedCount int `json:"processed_count"`
	ViolationCount int `json:"violation_count"`
}

type ChannelCompliance struct {
	Canal          string `json:"canal"`
	ProcessedCount int    `json:"processed_count"`
	ViolationCount int    `json:"violation_count"`
	CompliancePct  int    `json:"compliance_pct"`
}

type Breakdown struct {
	Trend    []DayCompliance     `json:"trend"`
	Hourly   []HourViolations    `json:"hourly"`
	Channels []ChannelCompliance `json:"channels"`
}

// Snapshot is the immutable result of one successful poll cycle.
type Snapshot struct {
	ID          uuid.UUID        `json:"id"`
	Sequence    uint64           `json:"sequence"`
	GeneratedAt time.Time        `json:"generated_at"`
	Events      []DetectionEvent `json:"events"`
	Stats       AggregateStats   `json:"stats"`
	Breakdown   Breakdown        `json:"breakdown"`
	Dropped     int              `json:"dropped"`
	Reset       bool             `json:"reset,omitempty"`
}

// Clone returns a deep copy so consumers never share slices with the owner.
// Empty slices stay empty rather than nil so they keep encoding as [].
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Events = cloneEvents(s.Events)
	out.Stats.RecentEvents = cloneEvents(s.Stats.RecentEvents)
	out.Stats.TopMissingTags = cloneSlice(s.Stats.TopMissingTags)
	out.Breakdown.Trend = cloneSlice(s.Breakdown.Trend)
	out.Breakdown.Hourly = cloneSlice(s.Breakdown.Hourly)
	out.Breakdown.Channels = cloneSlice(s.Breakdown.Channels)
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneEvents(events []DetectionEvent) []DetectionEvent {
	out := cloneSlice(events)
	for i, e := range out {
		out[i].Detected = cloneSlice(e.Detected)
		out[i].Missing = cloneSlice(e.Missing)
	}
	return out
}

type ViewState string

const (
	ViewStateLoading ViewState = "loading"
	ViewStateError   ViewState = "error"
	ViewStateEmpty   ViewState = "empty"
	ViewStateReady   ViewState = "ready"
)

type Status struct {
	State          ViewState  `json:"state"`
	LastError      string     `json:"last_error,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	LastUpdateAt   *time.Time `json:"last_update_at,omitempty"`
	AppliedCycles  uint64     `json:"applied_cycles"`
	FailedCycles   uint64     `json:"failed_cycles"`
	StaleResponses uint64     `json:"stale_responses"`
}

type Frame struct {
	Path  string `json:"path"`
	URL   string `json:"url"`
	Clock string `json:"clock,omitempty"`
}
