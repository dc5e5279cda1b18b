package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"epp-monitor/internal/domain/epp"
)

func sampleSnapshot() epp.Snapshot {
	return epp.Snapshot{
		GeneratedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Events: []epp.DetectionEvent{
			{Timestamp: "2024-06-01T11:00:00", Canal: "Channel1", Missing: []string{"without_helmet"}, Image: "/app/static/a.jpg"},
			{Fecha: "2024-06-01", Canal: "Channel2", Detected: []string{"with_helmet", "with_vest"}},
		},
		Stats: epp.AggregateStats{
			ReferenceDay:   "2024-06-01",
			ProcessedCount: 2,
			ViolationCount: 1,
			CompliancePct:  50,
			TopMissingTags: []epp.TagCount{{Tag: "without_helmet", Label: "Sin casco", Count: 1}},
		},
		Breakdown: epp.Breakdown{
			Trend:    []epp.DayCompliance{{Date: "2024-06-01", ProcessedCount: 2, ViolationCount: 1, CompliantCount: 1, CompliancePct: 50}},
			Channels: []epp.ChannelCompliance{{Canal: "Channel1", ProcessedCount: 1, ViolationCount: 1}},
		},
	}
}

func TestBuildWorkbook(t *testing.T) {
	resolve := func(raw string) string {
		if raw == "" {
			return ""
		}
		return "http://backend" + raw
	}
	buf, err := BuildWorkbook(sampleSnapshot(), resolve)
	if err != nil {
		t.Fatalf("BuildWorkbook() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := []string{SheetSummary, SheetTimeline, SheetTrend, SheetChannels}
	if len(sheets) != len(want) {
		t.Fatalf("sheets = %v, want %v", sheets, want)
	}
	for i := range want {
		if sheets[i] != want[i] {
			t.Errorf("sheet %d = %q, want %q", i, sheets[i], want[i])
		}
	}

	tests := []struct {
		sheet string
		cell  string
		want  string
	}{
		{sheet: SheetSummary, cell: "B2", want: "2024-06-01"},
		{sheet: SheetSummary, cell: "B5", want: "50"},
		{sheet: SheetSummary, cell: "A9", want: "Sin casco"},
		{sheet: SheetTimeline, cell: "A2", want: "2024-06-01T11:00:00"},
		{sheet: SheetTimeline, cell: "D2", want: "Sin casco"},
		{sheet: SheetTimeline, cell: "E2", want: "http://backend/app/static/a.jpg"},
		{sheet: SheetTimeline, cell: "A3", want: "2024-06-01"},
		{sheet: SheetTimeline, cell: "C3", want: "Con casco, Con chaleco reflectante"},
		{sheet: SheetTrend, cell: "E2", want: "50"},
		{sheet: SheetChannels, cell: "A2", want: "Channel1"},
	}
	for _, tt := range tests {
		t.Run(tt.sheet+"!"+tt.cell, func(t *testing.T) {
			got, err := f.GetCellValue(tt.sheet, tt.cell)
			if err != nil {
				t.Fatalf("GetCellValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("%s!%s = %q, want %q", tt.sheet, tt.cell, got, tt.want)
			}
		})
	}
}

func TestBuildWorkbookEmptySnapshot(t *testing.T) {
	buf, err := BuildWorkbook(epp.Snapshot{}, nil)
	if err != nil {
		t.Fatalf("BuildWorkbook() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Error("workbook is empty")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		snap epp.Snapshot
		want string
	}{
		{name: "reference day", snap: sampleSnapshot(), want: "epp_alertas_2024-06-01.xlsx"},
		{name: "no reference day", snap: epp.Snapshot{GeneratedAt: time.Date(2024, 7, 2, 23, 0, 0, 0, time.UTC)}, want: "epp_alertas_2024-07-02.xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(tt.snap); got != tt.want {
				t.Errorf("FileName() = %q, want %q", got, tt.want)
			}
		})
	}
}
