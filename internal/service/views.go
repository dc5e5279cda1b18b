package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"epp-monitor/internal/domain/epp"
	"epp-monitor/internal/snapshot"
	"epp-monitor/internal/utils"
)

// EventView is a timeline entry ready for display.
type EventView struct {
	epp.DetectionEvent
	Date          string   `json:"date"`
	Clock         string   `json:"clock,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Violation     bool     `json:"violation"`
	MissingLabels []string `json:"missing_labels"`
}

type StatsView struct {
	epp.AggregateStats
	RecentEvents []EventView `json:"recent_events"`
}

type SnapshotView struct {
	ID          uuid.UUID     `json:"id"`
	Sequence    uint64        `json:"sequence"`
	GeneratedAt time.Time     `json:"generated_at"`
	State       epp.ViewState `json:"state,omitempty"`
	Events      []EventView   `json:"events"`
	Stats       StatsView     `json:"stats"`
	Breakdown   epp.Breakdown `json:"breakdown"`
	Dropped     int           `json:"dropped"`
	Reset       bool          `json:"reset,omitempty"`
}

func (s *MonitorService) view(snap epp.Snapshot) SnapshotView {
	return SnapshotView{
		ID:          snap.ID,
		Sequence:    snap.Sequence,
		GeneratedAt: snap.GeneratedAt,
		State:       viewState(true, snap, nil),
		Events:      s.eventViews(snap.Events),
		Stats: StatsView{
			AggregateStats: snap.Stats,
			RecentEvents:   s.eventViews(snap.Stats.RecentEvents),
		},
		Breakdown: snap.Breakdown,
		Dropped:   snap.Dropped,
		Reset:     snap.Reset,
	}
}

func (s *MonitorService) eventViews(events []epp.DetectionEvent) []EventView {
	out := make([]EventView, 0, len(events))
	for _, e := range events {
		date, clock, _ := snapshot.ResolveDate(e)
		labels := make([]string, 0, len(e.Missing))
		for _, tag := range e.Missing {
			labels = append(labels, utils.EPPLabel(tag))
		}
		out = append(out, EventView{
			DetectionEvent: e,
			Date:           date,
			Clock:          displayClock(clock),
			ImageURL:       s.ImageURL(e.Image),
			Violation:      snapshot.IsViolation(e),
			MissingLabels:  labels,
		})
	}
	return out
}

// displayClock turns the ordering suffix of a timestamp ("T10:15:30.123Z") into "10:15:30".
func displayClock(clock string) string {
	clock = strings.TrimLeft(clock, "T ")
	if len(clock) > 8 {
		clock = clock[:8]
	}
	return clock
}
