package snapshot

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"epp-monitor/internal/domain/epp"
	"epp-monitor/internal/feed"
	"epp-monitor/internal/utils"
)

const (
	DefaultTimelineLimit = 50
	DefaultRecentLimit   = 5
	dayLayout            = "2006-01-02"
)

var dayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type Options struct {
	Now           func() time.Time
	Location      *time.Location
	TimelineLimit int
	RecentLimit   int
	EnvelopeKeys  []string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TimelineLimit <= 0 {
		o.TimelineLimit = DefaultTimelineLimit
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = DefaultRecentLimit
	}
	return o
}

type entry struct {
	event     epp.DetectionEvent
	date      string
	clock     string
	violation bool
}

func (e entry) sortKey() string {
	return e.date + e.clock
}

// NormalizePayload decodes a raw feed body and normalizes it.
// The result is either a complete snapshot or an ErrParse/ErrSchema error, never a partial value.
func NormalizePayload(body []byte, opts Options) (epp.Snapshot, error) {
	events, err := feed.Decode(body, opts.EnvelopeKeys)
	if err != nil {
		return epp.Snapshot{}, err
	}
	return Normalize(events, opts), nil
}

// Normalize builds the sorted, deduplicated reference-day timeline and its aggregates.
func Normalize(events []epp.DetectionEvent, opts Options) epp.Snapshot {
	opts = opts.withDefaults()
	now := opts.Now()

	entries, dropped := resolveEntries(events)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].sortKey() > entries[j].sortKey()
	})

	refDay := referenceDay(entries, now.In(opts.Location).Format(dayLayout))

	dayEntries := make([]entry, 0, len(entries))
	for _, e := range entries {
		if e.date == refDay {
			dayEntries = append(dayEntries, e)
		}
	}

	timeline := make([]epp.DetectionEvent, 0, min(len(dayEntries), opts.TimelineLimit))
	for i := 0; i < len(dayEntries) && i < opts.TimelineLimit; i++ {
		timeline = append(timeline, dayEntries[i].event)
	}

	return epp.Snapshot{
		ID:          uuid.New(),
		GeneratedAt: now,
		Events:      timeline,
		Stats:       aggregate(refDay, dayEntries, opts.RecentLimit),
		Breakdown: epp.Breakdown{
			Trend:    dailyTrend(entries),
			Hourly:   hourly(dayEntries),
			Channels: channels(dayEntries),
		},
		Dropped: dropped,
	}
}

// Empty is the snapshot shown after a local reset or before any data.
func Empty(now time.Time) epp.Snapshot {
	return epp.Snapshot{
		ID:          uuid.New(),
		GeneratedAt: now,
		Events:      []epp.DetectionEvent{},
		Stats:       aggregate("", nil, 0),
		Breakdown: epp.Breakdown{
			Trend:    []epp.DayCompliance{},
			Hourly:   []epp.HourViolations{},
			Channels: []epp.ChannelCompliance{},
		},
	}
}

// ResolveDate returns the calendar day of an event and the time portion used for ordering.
// A non-empty timestamp is authoritative: when it does not start with a date the record is undated.
func ResolveDate(e epp.DetectionEvent) (date, clock string, ok bool) {
	if ts := strings.TrimSpace(e.Timestamp); ts != "" {
		if len(ts) >= 10 && dayRe.MatchString(ts[:10]) {
			return ts[:10], ts[10:], true
		}
		return "", "", false
	}
	fecha := strings.TrimSpace(e.Fecha)
	if len(fecha) >= 10 && dayRe.MatchString(fecha[:10]) {
		return fecha[:10], "", true
	}
	return "", "", false
}

// IsViolation reports a missing tag, or an absence marker on any tag when the backend mislabels it.
func IsViolation(e epp.DetectionEvent) bool {
	for _, t := range e.Missing {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	for _, t := range e.Detected {
		if utils.IsAbsenceTag(t) {
			return true
		}
	}
	return false
}

// referenceDay prefers today when it has events, otherwise the latest day present.
func referenceDay(entries []entry, today string) string {
	latest := ""
	for _, e := range entries {
		if e.date == today {
			return today
		}
		if e.date > latest {
			latest = e.date
		}
	}
	return latest
}

// EventKey identifies a record for deduplication and change detection.
func EventKey(e epp.DetectionEvent) string {
	date, clock, _ := ResolveDate(e)
	return strings.Join([]string{
		date + clock,
		e.Canal,
		e.Image,
		strings.Join(e.Detected, ","),
		strings.Join(e.Missing, ","),
	}, "|")
}

func resolveEntries(events []epp.DetectionEvent) ([]entry, int) {
	entries := make([]entry, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	dropped := 0

	for _, raw := range events {
		date, clock, ok := ResolveDate(raw)
		if !ok {
			dropped++
			continue
		}
		ev := epp.DetectionEvent{
			Timestamp: strings.TrimSpace(raw.Timestamp),
			Fecha:     strings.TrimSpace(raw.Fecha),
			Canal:     strings.TrimSpace(raw.Canal),
			Detected:  utils.NormalizeTags(raw.Detected),
			Missing:   utils.NormalizeTags(raw.Missing),
			Image:     strings.TrimSpace(raw.Image),
		}
		key := EventKey(ev)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		entries = append(entries, entry{
			event:     ev,
			date:      date,
			clock:     clock,
			violation: IsViolation(ev),
		})
	}
	return entries, dropped
}

func aggregate(refDay string, dayEntries []entry, recentLimit int) epp.AggregateStats {
	stats := epp.AggregateStats{
		ReferenceDay:   refDay,
		ProcessedCount: len(dayEntries),
		TopMissingTags: []epp.TagCount{},
		RecentEvents:   []epp.DetectionEvent{},
	}

	counts := make(map[string]int)
	for i, e := range dayEntries {
		if e.violation {
			stats.ViolationCount++
		}
		for _, tag := range e.event.Missing {
			counts[tag]++
		}
		if i < recentLimit {
			stats.RecentEvents = append(stats.RecentEvents, e.event)
		}
	}
	stats.CompliancePct = CompliancePct(stats.ProcessedCount, stats.ViolationCount)

	for tag, n := range counts {
		stats.TopMissingTags = append(stats.TopMissingTags, epp.TagCount{
			Tag:   tag,
			Label: utils.EPPLabel(tag),
			Count: n,
		})
	}
	sort.Slice(stats.TopMissingTags, func(i, j int) bool {
		a, b := stats.TopMissingTags[i], stats.TopMissingTags[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Tag < b.Tag
	})

	return stats
}

// CompliancePct is round(100*(processed-violations)/processed), 100 when nothing was processed.
func CompliancePct(processed, violations int) int {
	if processed <= 0 {
		return 100
	}
	compliant := processed - violations
	if compliant < 0 {
		compliant = 0
	}
	return (200*compliant + processed) / (2 * processed)
}
