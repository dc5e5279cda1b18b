package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"epp-monitor/internal/domain/epp"
)

const dayLayout = "2006-01-02"

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (DailyCompliance) TableName() string {
	return "epp_daily_compliance"
}

type DailyCompliance struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Day            time.Time      `gorm:"type:date;not null;uniqueIndex"`
	ProcessedCount int            `gorm:"not null"`
	ViolationCount int            `gorm:"not null"`
	CompliantCount int            `gorm:"not null"`
	CompliancePct  int            `gorm:"not null"`
	TopMissing     datatypes.JSON `gorm:"type:jsonb"`
	Channels       datatypes.JSON `gorm:"type:jsonb"`
	SnapshotID     *uuid.UUID     `gorm:"type:uuid"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HistoryEntry is the API view of a stored day.
type HistoryEntry struct {
	Day            string                  `json:"day"`
	ProcessedCount int                     `json:"processed_count"`
	ViolationCount int                     `json:"violation_count"`
	CompliantCount int                     `json:"compliant_count"`
	CompliancePct  int                     `json:"compliance_pct"`
	TopMissing     []epp.TagCount          `json:"top_missing,omitempty"`
	Channels       []epp.ChannelCompliance `json:"channels,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// RowsFromSnapshot builds one row per trend day. Top-missing tags and channels are only known
// for the reference day, so other days carry counts only.
func RowsFromSnapshot(snap epp.Snapshot) ([]DailyCompliance, error) {
	rows := make([]DailyCompliance, 0, len(snap.Breakdown.Trend))
	snapshotID := snap.ID
	for _, day := range snap.Breakdown.Trend {
		parsed, err := time.Parse(dayLayout, day.Date)
		if err != nil {
			return nil, fmt.Errorf("trend day %q: %w", day.Date, err)
		}
		row := DailyCompliance{
			ID:             uuid.New(),
			Day:            parsed,
			ProcessedCount: day.ProcessedCount,
			ViolationCount: day.ViolationCount,
			CompliantCount: day.CompliantCount,
			CompliancePct:  day.CompliancePct,
		}
		if snapshotID != uuid.Nil {
			row.SnapshotID = &snapshotID
		}
		if day.Date == snap.Stats.ReferenceDay {
			if row.TopMissing, err = marshalJSON(snap.Stats.TopMissingTags); err != nil {
				return nil, err
			}
			if row.Channels, err = marshalJSON(snap.Breakdown.Channels); err != nil {
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// UpsertSnapshot stores the snapshot's daily trend. Existing days are overwritten.
func (r *HistoryRepository) UpsertSnapshot(ctx context.Context, snap epp.Snapshot) (int, error) {
	rows, err := RowsFromSnapshot(snap)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			updates := []string{"processed_count", "violation_count", "compliant_count", "compliance_pct", "snapshot_id", "updated_at"}
			if rows[i].TopMissing != nil {
				updates = append(updates, "top_missing", "channels")
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "day"}},
				DoUpdates: clause.AssignmentColumns(updates),
			}).Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert daily compliance: %w", err)
	}
	return len(rows), nil
}

func (r *HistoryRepository) List(ctx context.Context, from, to *time.Time) ([]HistoryEntry, error) {
	query := r.db.WithContext(ctx).Model(&DailyCompliance{})
	if from != nil {
		query = query.Where("day >= ?", from.Format(dayLayout))
	}
	if to != nil {
		query = query.Where("day <= ?", to.Format(dayLayout))
	}

	var rows []DailyCompliance
	if err := query.Order("day ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := toEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toEntry(row DailyCompliance) (HistoryEntry, error) {
	entry := HistoryEntry{
		Day:            row.Day.Format(dayLayout),
		ProcessedCount: row.ProcessedCount,
		ViolationCount: row.ViolationCount,
		CompliantCount: row.CompliantCount,
		CompliancePct:  row.CompliancePct,
		UpdatedAt:      row.UpdatedAt,
	}
	if len(row.TopMissing) > 0 {
		if err := json.Unmarshal(row.TopMissing, &entry.TopMissing); err != nil {
			return HistoryEntry{}, fmt.Errorf("decode top_missing for %s: %w", entry.Day, err)
		}
	}
	if len(row.Channels) > 0 {
		if err := json.Unmarshal(row.Channels, &entry.Channels); err != nil {
			return HistoryEntry{}, fmt.Errorf("decode channels for %s: %w", entry.Day, err)
		}
	}
	return entry, nil
}
