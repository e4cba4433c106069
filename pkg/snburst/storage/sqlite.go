package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "snburst.sqlite3"
const errDBClientNil = "db client is nil"

// DBClient wraps the gorm handle for the run catalog.
type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Run is one completed (or in-flight) pipeline execution.
type Run struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	Model          string `gorm:"index:idx_run_model"`
	ModelType      string
	Detector       string `gorm:"index:idx_run_detector"`
	Transformation string
	DistanceKpc    float64
	Windows        int
	Spacing        string
	ArtifactPath   string
	CreatedAt      time.Time
}

// BinCount is the aggregated event count of one time window of a run.
type BinCount struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RunID    string `gorm:"type:varchar(36);index:idx_bin_run"`
	BinIndex int
	TStart   float64
	TEnd     float64
	TMid     float64
	Events   float64
	Rate     float64 // events per second over the window
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("SNBURST_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !os.IsExist(err) {
		if filepath.Dir(dbPath) != "." {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Run{}, &BinCount{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// RegisterRun records a new pipeline run and returns its id.
func (c *DBClient) RegisterRun(run Run) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if err := c.DB.Create(&run).Error; err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	return run.ID, nil
}

// StoreBinCounts inserts the aggregated window counts for a run.
func (c *DBClient) StoreBinCounts(runID string, counts []BinCount) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if len(counts) == 0 {
		return nil
	}
	rows := make([]BinCount, len(counts))
	copy(rows, counts)
	for i := range rows {
		rows[i].ID = 0
		rows[i].RunID = runID
	}
	if err := c.DB.CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("batch insert bin counts: %w", err)
	}
	return nil
}

func (c *DBClient) GetRunByID(runID string) (*Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var run Run
	if err := c.DB.Where("id = ?", runID).First(&run).Error; err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return &run, nil
}

// GetBinCounts returns a run's window counts ordered by bin index.
func (c *DBClient) GetBinCounts(runID string) ([]BinCount, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var counts []BinCount
	if err := c.DB.Where("run_id = ?", runID).Order("bin_index").Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("querying bin counts: %w", err)
	}
	return counts, nil
}

func (c *DBClient) ListRuns() ([]Run, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var runs []Run
	if err := c.DB.Order("created_at desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// DeleteRunByID removes a run and its bin counts in one transaction.
func (c *DBClient) DeleteRunByID(runID string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&BinCount{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", runID).Delete(&Run{}).Error; err != nil {
			return err
		}
		return nil
	})
}
