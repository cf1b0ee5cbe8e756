// Package journalpg is a PostgreSQL-backed journal.Journal, built on GORM
// and its gorm.io/driver/postgres dialector the same way the teacher's
// RabbitMQ log table was: a GORM
// model, AutoMigrate on startup, and pooled *sql.DB settings configured
// through GORM's underlying connection.
package journalpg

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"hygge.dev/ferrors"
	"hygge.dev/journal"
	"hygge.dev/logging"
)

var log = logging.New("journalpg")

// record is the GORM model backing the journal table. Unlike the
// teacher's RabbitLog, this has no soft-delete: journal entries are
// append-only and never deleted by this package.
type record struct {
	ID                  uint `gorm:"primaryKey"`
	CoordinatorRunID    string `gorm:"column:coordinator_run_id;index:idx_journalpg_ids,unique"`
	FlowRunID           string `gorm:"column:flow_run_id;index:idx_journalpg_ids,unique"`
	EntityRunID         string `gorm:"column:entity_run_id;index:idx_journalpg_ids,unique"`
	FlowName            string `gorm:"column:flow_name;index:idx_journalpg_watermark"`
	EntityName          string `gorm:"column:entity_name;index:idx_journalpg_watermark"`
	RunType             string `gorm:"column:run_type"`
	StartedAt           time.Time `gorm:"column:started_at"`
	FinishedAt          time.Time `gorm:"column:finished_at"`
	Status              string `gorm:"column:status"`
	SerializedWatermark string `gorm:"column:serialized_watermark"`
	HasWatermark        bool   `gorm:"column:has_watermark"`
	RowCount            int64  `gorm:"column:row_count"`
	Error               string `gorm:"column:error_text"`
}

func (record) TableName() string { return "hygge_journal_entries" }

// Config configures the Postgres connection pool, matching the teacher's
// PGInfo settings (idle/open connection caps, connection lifetime).
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 100
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	return c
}

// Journal is a journal.Journal implementation backed by Postgres.
type Journal struct {
	db *gorm.DB
}

// New opens a connection, applies the pool settings, and migrates the
// journal table.
func New(cfg Config) (*Journal, error) {
	cfg = cfg.withDefaults()

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, ferrors.NewConfigError("opening postgres journal connection", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ferrors.NewConfigError("obtaining underlying sql.DB from gorm", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, ferrors.NewConfigError("migrating journal schema", err)
	}

	log.Info("postgres journal ready")
	return &Journal{db: db}, nil
}

func (j *Journal) BeginRun(ids journal.RunIDs, flowName, entityName, runType string, startedAt time.Time) (journal.Entry, error) {
	rec := record{
		CoordinatorRunID: ids.CoordinatorRunID,
		FlowRunID:        ids.FlowRunID,
		EntityRunID:      ids.EntityRunID,
		FlowName:         flowName,
		EntityName:       entityName,
		RunType:          runType,
		StartedAt:        startedAt,
		Status:           string(journal.StatusRunning),
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return journal.Entry{}, ferrors.NewSinkError("writing journal begin_run record", err)
	}
	return toEntry(rec), nil
}

func (j *Journal) CompleteRun(entry journal.Entry, status journal.Status, serializedWatermark string, hasWatermark bool, rowCount int64, runErr error) error {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	res := j.db.Model(&record{}).
		Where("coordinator_run_id = ? AND flow_run_id = ? AND entity_run_id = ?",
			entry.CoordinatorRunID, entry.FlowRunID, entry.EntityRunID).
		Updates(map[string]any{
			"finished_at":          time.Now(),
			"status":               string(status),
			"serialized_watermark": serializedWatermark,
			"has_watermark":        hasWatermark,
			"row_count":            rowCount,
			"error_text":           errText,
		})
	if res.Error != nil {
		return ferrors.NewSinkError("writing journal complete_run update", res.Error)
	}
	if res.RowsAffected == 0 {
		return ferrors.NewConfigError("complete_run: no matching begin_run entry found", nil)
	}
	return nil
}

func (j *Journal) LastSuccessfulWatermark(flowName, entityName string) (string, bool, error) {
	var rec record
	err := j.db.Where("flow_name = ? AND entity_name = ? AND status = ? AND has_watermark = ?",
		flowName, entityName, string(journal.StatusOK), true).
		Order("started_at DESC").
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, ferrors.NewSourceError("querying last successful watermark", err)
	}
	return rec.SerializedWatermark, true, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEntry(rec record) journal.Entry {
	return journal.Entry{
		RunIDs: journal.RunIDs{
			CoordinatorRunID: rec.CoordinatorRunID,
			FlowRunID:        rec.FlowRunID,
			EntityRunID:      rec.EntityRunID,
		},
		FlowName:   rec.FlowName,
		EntityName: rec.EntityName,
		RunType:    rec.RunType,
		StartedAt:  rec.StartedAt,
		Status:     journal.Status(rec.Status),
	}
}
