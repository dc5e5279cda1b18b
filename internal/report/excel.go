package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"epp-monitor/internal/domain/epp"
	"epp-monitor/internal/utils"
)

const (
	SheetSummary  = "Resumen"
	SheetTimeline = "Alertas"
	SheetTrend    = "Tendencia"
	SheetChannels = "Canales"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ImageResolver turns a raw feed image path into a URL.
type ImageResolver func(raw string) string

// BuildWorkbook renders a snapshot as an xlsx workbook.
func BuildWorkbook(snap epp.Snapshot, resolve ImageResolver) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetTimeline, SheetTrend, SheetChannels} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	steps := []func() error{
		func() error { return writeSummary(f, snap, header) },
		func() error { return writeTimeline(f, snap, resolve, header) },
		func() error { return writeTrend(f, snap, header) },
		func() error { return writeChannels(f, snap, header) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

// FileName is the download name for a snapshot export.
func FileName(snap epp.Snapshot) string {
	day := snap.Stats.ReferenceDay
	if day == "" {
		day = snap.GeneratedAt.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf("epp_alertas_%s.xlsx", day)
}

func writeRows(f *excelize.File, sheet string, headerStyle int, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheet, "A", "F", 20)
}

func writeSummary(f *excelize.File, snap epp.Snapshot, header int) error {
	stats := snap.Stats
	rows := [][]interface{}{
		{"Indicador", "Valor"},
		{"Día de referencia", stats.ReferenceDay},
		{"Procesados", stats.ProcessedCount},
		{"Alertas", stats.ViolationCount},
		{"Cumplimiento (%)", stats.CompliancePct},
		{"Generado", snap.GeneratedAt.UTC().Format(time.RFC3339)},
		{},
		{"EPP faltante", "Cantidad"},
	}
	for _, tag := range stats.TopMissingTags {
		label := tag.Label
		if label == "" {
			label = tag.Tag
		}
		rows = append(rows, []interface{}{label, tag.Count})
	}
	return writeRows(f, SheetSummary, header, rows)
}

func writeTimeline(f *excelize.File, snap epp.Snapshot, resolve ImageResolver, header int) error {
	rows := [][]interface{}{{"Fecha", "Canal", "Detectado", "Faltante", "Imagen"}}
	for _, e := range snap.Events {
		when := e.Timestamp
		if when == "" {
			when = e.Fecha
		}
		image := e.Image
		if resolve != nil {
			image = resolve(e.Image)
		}
		rows = append(rows, []interface{}{
			when,
			e.Canal,
			labels(e.Detected),
			labels(e.Missing),
			image,
		})
	}
	return writeRows(f, SheetTimeline, header, rows)
}

func writeTrend(f *excelize.File, snap epp.Snapshot, header int) error {
	rows := [][]interface{}{{"Día", "Procesados", "Alertas", "Cumplen", "Cumplimiento (%)"}}
	for _, d := range snap.Breakdown.Trend {
		rows = append(rows, []interface{}{d.Date, d.ProcessedCount, d.ViolationCount, d.CompliantCount, d.CompliancePct})
	}
	return writeRows(f, SheetTrend, header, rows)
}

func writeChannels(f *excelize.File, snap epp.Snapshot, header int) error {
	rows := [][]interface{}{{"Canal", "Procesados", "Alertas", "Cumplimiento (%)"}}
	for _, c := range snap.Breakdown.Channels {
		rows = append(rows, []interface{}{c.Canal, c.ProcessedCount, c.ViolationCount, c.CompliancePct})
	}
	return writeRows(f, SheetChannels, header, rows)
}

func labels(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, utils.EPPLabel(tag))
	}
	return strings.Join(out, ", ")
}
