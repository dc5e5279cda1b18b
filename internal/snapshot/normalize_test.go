package snapshot

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"epp-monitor/internal/domain/epp"
	"epp-monitor/internal/feed"
)

func clockAt(day string) func() time.Time {
	return func() time.Time {
		t, err := time.Parse("2006-01-02 15:04", day+" 12:00")
		if err != nil {
			panic(err)
		}
		return t
	}
}

const endToEndFeed = `[
	{"timestamp":"2024-06-01T10:00:00","canal":"Channel1","detected":["with_helmet"],"missing":[]},
	{"timestamp":"2024-06-01T11:00:00","canal":"Channel1","detected":[],"missing":["without_vest"]}
]`

func TestNormalizeEndToEnd(t *testing.T) {
	snap, err := NormalizePayload([]byte(endToEndFeed), Options{Now: clockAt("2024-06-01")})
	if err != nil {
		t.Fatalf("NormalizePayload: %v", err)
	}

	stats := snap.Stats
	if stats.ReferenceDay != "2024-06-01" {
		t.Fatalf("reference day = %q, want 2024-06-01", stats.ReferenceDay)
	}
	if stats.ProcessedCount != 2 || stats.ViolationCount != 1 || stats.CompliancePct != 50 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	wantTop := []epp.TagCount{{Tag: "without_vest", Label: "Sin chaleco reflectante", Count: 1}}
	if !reflect.DeepEqual(stats.TopMissingTags, wantTop) {
		t.Fatalf("top missing = %+v, want %+v", stats.TopMissingTags, wantTop)
	}
	if len(snap.Events) != 2 || snap.Events[0].Timestamp != "2024-06-01T11:00:00" {
		t.Fatalf("expected 11:00 record first, got %+v", snap.Events)
	}
	if len(stats.RecentEvents) != 2 || stats.RecentEvents[0].Timestamp != "2024-06-01T11:00:00" {
		t.Fatalf("unexpected recent events %+v", stats.RecentEvents)
	}
}

func TestReferenceDayFallsBackToLatest(t *testing.T) {
	events := []epp.DetectionEvent{
		{Fecha: "2024-01-01", Missing: []string{"without_helmet"}},
		{Timestamp: "2024-01-03T08:00:00"},
		{Timestamp: "2024-01-03T09:00:00", Missing: []string{"without_gloves"}},
	}
	snap := Normalize(events, Options{Now: clockAt("2024-01-05")})

	if snap.Stats.ReferenceDay != "2024-01-03" {
		t.Fatalf("reference day = %q, want 2024-01-03", snap.Stats.ReferenceDay)
	}
	if snap.Stats.ProcessedCount != 2 || snap.Stats.ViolationCount != 1 {
		t.Fatalf("stats not restricted to reference day: %+v", snap.Stats)
	}
}

func TestReferenceDayPrefersToday(t *testing.T) {
	events := []epp.DetectionEvent{
		{Timestamp: "2024-01-05T08:00:00"},
		{Timestamp: "2024-01-07T08:00:00"},
	}
	snap := Normalize(events, Options{Now: clockAt("2024-01-05")})
	if snap.Stats.ReferenceDay != "2024-01-05" {
		t.Fatalf("reference day = %q, want today", snap.Stats.ReferenceDay)
	}
}

func TestReferenceDayUsesConfiguredLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := func() time.Time { return time.Date(2024, 1, 6, 2, 0, 0, 0, time.UTC) }
	events := []epp.DetectionEvent{
		{Timestamp: "2024-01-05T20:00:00"},
		{Timestamp: "2024-01-06T01:00:00"},
	}

	snap := Normalize(events, Options{Now: now, Location: loc})
	if snap.Stats.ReferenceDay != "2024-01-05" {
		t.Fatalf("reference day = %q, want local today 2024-01-05", snap.Stats.ReferenceDay)
	}
}

func TestResolveDate(t *testing.T) {
	tests := []struct {
		name      string
		event     epp.DetectionEvent
		wantDate  string
		wantClock string
		wantOK    bool
	}{
		{"timestamp", epp.DetectionEvent{Timestamp: "2024-06-01T10:00:00"}, "2024-06-01", "T10:00:00", true},
		{"timestamp wins over fecha", epp.DetectionEvent{Timestamp: "2024-06-02 10:00", Fecha: "2024-06-01"}, "2024-06-02", " 10:00", true},
		{"fecha only", epp.DetectionEvent{Fecha: "2024-06-01"}, "2024-06-01", "", true},
		{"fecha with time", epp.DetectionEvent{Fecha: "2024-06-01T23:00:00"}, "2024-06-01", "", true},
		{"bad timestamp is not replaced by fecha", epp.DetectionEvent{Timestamp: "yesterday", Fecha: "2024-06-01"}, "", "", false},
		{"blank timestamp uses fecha", epp.DetectionEvent{Timestamp: "  ", Fecha: "2024-06-01"}, "2024-06-01", "", true},
		{"neither", epp.DetectionEvent{Canal: "Channel1"}, "", "", false},
		{"short", epp.DetectionEvent{Timestamp: "2024-06"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, clock, ok := ResolveDate(tt.event)
			if date != tt.wantDate || clock != tt.wantClock || ok != tt.wantOK {
				t.Errorf("ResolveDate() = (%q, %q, %v), want (%q, %q, %v)", date, clock, ok, tt.wantDate, tt.wantClock, tt.wantOK)
			}
		})
	}
}

func TestNormalizeDropsUndatedRecords(t *testing.T) {
	events := []epp.DetectionEvent{
		{Canal: "Channel1", Missing: []string{"without_helmet"}},
		{Timestamp: "2024-06-01T10:00:00"},
		{Timestamp: "01/06/2024 10:00", Fecha: "2024-06-01", Missing: []string{"without_vest"}},
	}
	snap := Normalize(events, Options{Now: clockAt("2024-06-01")})
	if snap.Dropped != 2 {
		t.Fatalf("dropped = %d, want 2", snap.Dropped)
	}
	if snap.Stats.ProcessedCount != 1 || snap.Stats.ViolationCount != 0 {
		t.Fatalf("undated record leaked into stats: %+v", snap.Stats)
	}
}

func TestNormalizeOrdering(t *testing.T) {
	events := []epp.DetectionEvent{
		{Fecha: "2024-06-01", Canal: "date-only"},
		{Timestamp: "2024-06-01T09:00:00", Canal: "nine"},
		{Timestamp: "2024-06-01T17:30:00", Canal: "half-five"},
		{Timestamp: "2024-05-31T23:59:59", Canal: "previous-day"},
	}
	snap := Normalize(events, Options{Now: clockAt("2024-06-01")})

	got := make([]string, 0, len(snap.Events))
	for _, e := range snap.Events {
		got = append(got, e.Canal)
	}
	want := []string{"half-five", "nine", "date-only"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestNormalizeDeduplicates(t *testing.T) {
	events := []epp.DetectionEvent{
		{Timestamp: "2024-06-01T10:00:00", Canal: "Channel1", Missing: []string{"without_vest", "without_helmet"}, Image: "/app/a.jpg"},
		{Timestamp: "2024-06-01T10:00:00", Canal: "Channel1", Missing: []string{"without_helmet", "without_vest", "without_vest"}, Image: "/app/a.jpg"},
		{Timestamp: "2024-06-01T10:00:00", Canal: "Channel2", Missing: []string{"without_helmet"}},
	}
	snap := Normalize(events, Options{Now: clockAt("2024-06-01")})

	if snap.Stats.ProcessedCount != 2 {
		t.Fatalf("processed = %d, want 2 after dedup", snap.Stats.ProcessedCount)
	}
	want := []epp.TagCount{
		{Tag: "without_helmet", Label: "Sin casco", Count: 2},
		{Tag: "without_vest", Label: "Sin chaleco reflectante", Count: 1},
	}
	if !reflect.DeepEqual(snap.Stats.TopMissingTags, want) {
		t.Fatalf("top missing = %+v, want %+v", snap.Stats.TopMissingTags, want)
	}
}

func TestIsViolation(t *testing.T) {
	tests := []struct {
		name  string
		event epp.DetectionEvent
		want  bool
	}{
		{"missing tag", epp.DetectionEvent{Missing: []string{"without_helmet"}}, true},
		{"compliant", epp.DetectionEvent{Detected: []string{"with_helmet"}}, false},
		{"absence tag in detected", epp.DetectionEvent{Detected: []string{"with_helmet", "without_gloves"}}, true},
		{"blank missing entry", epp.DetectionEvent{Missing: []string{" "}}, false},
		{"nothing", epp.DetectionEvent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsViolation(tt.event); got != tt.want {
				t.Errorf("IsViolation(%+v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestCompliancePct(t *testing.T) {
	tests := []struct {
		processed, violations, want int
	}{
		{0, 0, 100},
		{4, 1, 75},
		{2, 1, 50},
		{3, 1, 67},
		{3, 2, 33},
		{8, 1, 88},
		{1, 1, 0},
		{5, 0, 100},
	}
	for _, tt := range tests {
		if got := CompliancePct(tt.processed, tt.violations); got != tt.want {
			t.Errorf("CompliancePct(%d, %d) = %d, want %d", tt.processed, tt.violations, got, tt.want)
		}
	}
}

func TestNormalizeEmptyFeed(t *testing.T) {
	snap, err := NormalizePayload([]byte(`[]`), Options{Now: clockAt("2024-06-01")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Stats.CompliancePct != 100 || snap.Stats.ProcessedCount != 0 || snap.Stats.ReferenceDay != "" {
		t.Fatalf("unexpected stats for empty feed: %+v", snap.Stats)
	}
	if snap.Events == nil || snap.Stats.TopMissingTags == nil {
		t.Fatalf("empty collections should encode as [] not null")
	}
}

func TestNormalizePayloadMalformed(t *testing.T) {
	for _, body := range []string{"undefined", "", "<html>...</html>", "null"} {
		_, err := NormalizePayload([]byte(body), Options{})
		if !errors.Is(err, feed.ErrParse) && !errors.Is(err, feed.ErrSchema) {
			t.Errorf("NormalizePayload(%q) error = %v, want validation failure", body, err)
		}
	}
}

func TestNormalizeCaps(t *testing.T) {
	events := make([]epp.DetectionEvent, 0, 12)
	for i := 0; i < 12; i++ {
		events = append(events, epp.DetectionEvent{
			Timestamp: time.Date(2024, 6, 1, i, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05"),
		})
	}
	snap := Normalize(events, Options{Now: clockAt("2024-06-01"), TimelineLimit: 10, RecentLimit: 3})

	if len(snap.Events) != 10 {
		t.Fatalf("timeline length = %d, want 10", len(snap.Events))
	}
	if snap.Stats.ProcessedCount != 12 {
		t.Fatalf("aggregates must use every reference-day event, got %d", snap.Stats.ProcessedCount)
	}
	if len(snap.Stats.RecentEvents) != 3 || snap.Stats.RecentEvents[0].Timestamp != "2024-06-01T11:00:00" {
		t.Fatalf("unexpected recent events %+v", snap.Stats.RecentEvents)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	opts := Options{Now: clockAt("2024-06-01")}
	first, err := NormalizePayload([]byte(endToEndFeed), opts)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	reencoded, err := json.Marshal(first.Events)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := NormalizePayload(reencoded, opts)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if !reflect.DeepEqual(first.Events, second.Events) {
		t.Fatalf("events changed:\n%+v\n%+v", first.Events, second.Events)
	}
	if !reflect.DeepEqual(first.Stats, second.Stats) {
		t.Fatalf("stats changed:\n%+v\n%+v", first.Stats, second.Stats)
	}
}

func TestNormalizeEnvelopeShapesAgree(t *testing.T) {
	opts := Options{Now: clockAt("2024-06-01")}
	bare, err := NormalizePayload([]byte(endToEndFeed), opts)
	if err != nil {
		t.Fatalf("bare: %v", err)
	}
	for _, body := range []string{`{"data":` + endToEndFeed + `}`, `{"alertas":` + endToEndFeed + `}`} {
		wrapped, err := NormalizePayload([]byte(body), opts)
		if err != nil {
			t.Fatalf("wrapped: %v", err)
		}
		if !reflect.DeepEqual(bare.Stats, wrapped.Stats) || !reflect.DeepEqual(bare.Events, wrapped.Events) {
			t.Fatalf("envelope changed the result for %s", body)
		}
	}
}
