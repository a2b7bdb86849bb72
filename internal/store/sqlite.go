package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sqliteBatchSize bounds the rows per INSERT statement in atomic batches.
const sqliteBatchSize = 500

type categoryRow struct {
	ID        string `gorm:"primaryKey;type:text"`
	OwnerID   string `gorm:"type:text;not null;uniqueIndex:categories_owner_name_key,priority:1"`
	Name      string `gorm:"type:text;not null"`
	NameKey   string `gorm:"type:text;not null;uniqueIndex:categories_owner_name_key,priority:2"`
	CreatedAt time.Time
}

func (categoryRow) TableName() string { return "categories" }

type drillRow struct {
	ID         string       `gorm:"primaryKey;type:text"`
	OwnerID    string       `gorm:"type:text;not null;uniqueIndex:drills_owner_name_key,priority:1"`
	CategoryID string       `gorm:"type:text;not null;index:drills_category_idx"`
	Category   *categoryRow `gorm:"foreignKey:CategoryID;references:ID;constraint:OnDelete:RESTRICT"`
	Name       string       `gorm:"type:text;not null"`
	NameKey    string       `gorm:"type:text;not null;uniqueIndex:drills_owner_name_key,priority:2"`
	Minutes    int          `gorm:"not null"`
	Notes      *string
	MediaLinks *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (drillRow) TableName() string { return "drills" }

type importRunRow struct {
	ID         string    `gorm:"primaryKey;type:text"`
	OwnerID    string    `gorm:"type:text;not null;index:import_runs_owner_created_idx,priority:1"`
	Source     string    `gorm:"type:text;not null"`
	Policy     string    `gorm:"type:text;not null"`
	TotalRows  int       `gorm:"not null"`
	Imported   int       `gorm:"not null"`
	Skipped    int       `gorm:"not null"`
	Failed     int       `gorm:"not null"`
	DurationMs int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index:import_runs_owner_created_idx,priority:2"`
}

func (importRunRow) TableName() string { return "import_runs" }

// SQLite is the gorm-backed store for single-node installs and tests.
//
// Foreign keys are enabled on every connection. The drill→category key
// covers the category id only; the importer never attaches another owner's
// category because it resolves categories through ListCategories.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path.
// path may be a plain file path or a "file:" URI.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "drillplan.db"
	}
	if err := ensureDirForSQLite(path); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger:         dbLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// sqliteDSN appends the foreign key pragma unless the caller set it.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_foreign_keys=") || strings.Contains(path, "_fk=") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	return path + "?_foreign_keys=on"
}

// ensureDirForSQLite creates the parent directory of a file-backed database.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// Migrate creates or updates tables and indexes.
func (s *SQLite) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&categoryRow{}, &drillRow{}, &importRunRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLite) ListCategories(ctx context.Context, ownerID string) ([]Category, error) {
	var rows []categoryRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	out := make([]Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, Category{ID: r.ID, OwnerID: r.OwnerID, Name: r.Name, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *SQLite) CreateCategory(ctx context.Context, ownerID, name string) (Category, error) {
	row := categoryRow{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Name:    name,
		NameKey: NameKey(name),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Category{}, fmt.Errorf("insert category: %w", translateGormError(err))
	}
	return Category{ID: row.ID, OwnerID: row.OwnerID, Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

func (s *SQLite) ListDrills(ctx context.Context, ownerID string) ([]Drill, error) {
	var rows []drillRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query drills: %w", err)
	}
	out := make([]Drill, 0, len(rows))
	for _, r := range rows {
		out = append(out, Drill{
			ID:         r.ID,
			OwnerID:    r.OwnerID,
			CategoryID: r.CategoryID,
			Name:       r.Name,
			Minutes:    r.Minutes,
			Notes:      r.Notes,
			MediaLinks: r.MediaLinks,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *SQLite) ListDrillNames(ctx context.Context, ownerID string) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&drillRow{}).Where("owner_id = ?", ownerID).Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("query drill names: %w", err)
	}
	return names, nil
}

// InsertDrills writes all drills in one transaction; either every drill is
// stored or none is.
func (s *SQLite) InsertDrills(ctx context.Context, drills []NewDrill) ([]string, error) {
	if len(drills) == 0 {
		return nil, nil
	}

	rows := make([]drillRow, len(drills))
	ids := make([]string, len(drills))
	for i, d := range drills {
		ids[i] = uuid.NewString()
		rows[i] = toDrillRow(ids[i], d)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).CreateInBatches(&rows, sqliteBatchSize).Error
	})
	if err != nil {
		return nil, fmt.Errorf("insert drills: %w", translateGormError(err))
	}
	return ids, nil
}

// InsertDrillsEach inserts drills one at a time inside a single transaction,
// isolating each insert in a savepoint.
func (s *SQLite) InsertDrillsEach(ctx context.Context, drills []NewDrill) ([]InsertOutcome, error) {
	if len(drills) == 0 {
		return nil, nil
	}

	outcomes := make([]InsertOutcome, len(drills))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, d := range drills {
			savepoint := fmt.Sprintf("sp_%d", i)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return fmt.Errorf("create savepoint: %w", err)
			}

			row := toDrillRow(uuid.NewString(), d)
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
					return fmt.Errorf("rollback savepoint: %w", rbErr)
				}
				outcomes[i] = InsertOutcome{Err: fmt.Errorf("insert drill: %w", translateGormError(err))}
				continue
			}
			outcomes[i] = InsertOutcome{ID: row.ID}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func toDrillRow(id string, d NewDrill) drillRow {
	return drillRow{
		ID:         id,
		OwnerID:    d.OwnerID,
		CategoryID: d.CategoryID,
		Name:       d.Name,
		NameKey:    NameKey(d.Name),
		Minutes:    d.Minutes,
		Notes:      d.Notes,
		MediaLinks: d.MediaLinks,
	}
}

func (s *SQLite) RecordImportRun(ctx context.Context, run ImportRun) (ImportRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	row := importRunRow{
		ID:         run.ID,
		OwnerID:    run.OwnerID,
		Source:     run.Source,
		Policy:     run.Policy,
		TotalRows:  run.TotalRows,
		Imported:   run.Imported,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		DurationMs: run.DurationMs,
		CreatedAt:  run.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ImportRun{}, fmt.Errorf("insert import run: %w", translateGormError(err))
	}
	run.CreatedAt = row.CreatedAt
	return run, nil
}

func (s *SQLite) ListImportRuns(ctx context.Context, ownerID string, limit int) ([]ImportRun, error) {
	var rows []importRunRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	out := make([]ImportRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, ImportRun{
			ID:         r.ID,
			OwnerID:    r.OwnerID,
			Source:     r.Source,
			Policy:     r.Policy,
			TotalRows:  r.TotalRows,
			Imported:   r.Imported,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
			DurationMs: r.DurationMs,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

func (s *SQLite) PruneImportRuns(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&importRunRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune import runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// translateGormError tags duplicate-key failures reported by the driver.
func translateGormError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConstraintError{Err: err}
	}
	return err
}
