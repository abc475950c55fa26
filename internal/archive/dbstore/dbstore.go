// Package dbstore implements archive.Store on a relational database with
// gorm. Postgres is the production driver; sqlite serves single-node setups
// and tests.
package dbstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cctv-archive/internal/archive"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type sourceRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"index;not null"`
	URL       string `gorm:"column:url;not null"`
	Status    string `gorm:"type:varchar(16);index;not null"`
	StatusMsg string `gorm:"column:status_msg"`
}

func (sourceRow) TableName() string { return "source" }

// Times are stored as epoch seconds.
type chunkRow struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	SourceID  int64   `gorm:"index;not null"`
	FilePath  string  `gorm:"uniqueIndex;not null"`
	StartTime float64 `gorm:"index;not null"`
	EndTime   float64 `gorm:"not null"`
}

func (chunkRow) TableName() string { return "video_chunk" }

func (r sourceRow) source() archive.Source {
	return archive.Source{
		ID:        archive.SourceID(r.ID),
		Name:      r.Name,
		URL:       r.URL,
		Status:    archive.Status(r.Status),
		StatusMsg: r.StatusMsg,
	}
}

func (r chunkRow) chunk() archive.Chunk {
	return archive.Chunk{
		ID:        archive.ChunkID(r.ID),
		SourceID:  archive.SourceID(r.SourceID),
		FilePath:  r.FilePath,
		StartTime: archive.FromEpochSeconds(r.StartTime),
		EndTime:   archive.FromEpochSeconds(r.EndTime),
	}
}

// Store is a gorm-backed archive.Store.
type Store struct {
	db *gorm.DB
}

var _ archive.Store = (*Store)(nil)

// Open connects with driver ("postgres" or "sqlite") and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dial gorm.Dialector
	switch driver {
	case "postgres":
		dial = postgres.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("dbstore: unknown driver %q", driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("dbstore: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an open gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sourceRow{}, &chunkRow{}); err != nil {
		return nil, fmt.Errorf("dbstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return archive.ErrNotFound
	}
	return err
}

func (s *Store) ListSources(ctx context.Context) ([]archive.Source, error) {
	return s.listSources(s.db.WithContext(ctx))
}

func (s *Store) ListSourcesByStatus(ctx context.Context, status archive.Status) ([]archive.Source, error) {
	return s.listSources(s.db.WithContext(ctx).Where("status = ?", status.String()))
}

func (s *Store) listSources(q *gorm.DB) ([]archive.Source, error) {
	var rows []sourceRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]archive.Source, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.source())
	}
	return out, nil
}

func (s *Store) GetSource(ctx context.Context, id archive.SourceID) (archive.Source, error) {
	var row sourceRow
	if err := s.db.WithContext(ctx).First(&row, int64(id)).Error; err != nil {
		return archive.Source{}, notFound(err)
	}
	return row.source(), nil
}

func (s *Store) CreateSource(ctx context.Context, name, url string) (archive.Source, error) {
	row := sourceRow{Name: name, URL: url, Status: archive.StatusPaused.String()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return archive.Source{}, err
	}
	return row.source(), nil
}

func (s *Store) UpdateSourceStatus(ctx context.Context, id archive.SourceID, status archive.Status, msg string) error {
	res := s.db.WithContext(ctx).Model(&sourceRow{}).Where("id = ?", int64(id)).
		Updates(map[string]any{"status": status.String(), "status_msg": msg})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return archive.ErrNotFound
	}
	return nil
}

// DeleteSource removes the source row and its chunk rows in one transaction.
func (s *Store) DeleteSource(ctx context.Context, id archive.SourceID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", int64(id)).Delete(&chunkRow{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&sourceRow{}, int64(id))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return archive.ErrNotFound
		}
		return nil
	})
}

func (s *Store) CreateChunk(ctx context.Context, c archive.Chunk) (archive.Chunk, error) {
	row := chunkRow{
		SourceID:  int64(c.SourceID),
		FilePath:  c.FilePath,
		StartTime: archive.EpochSeconds(c.StartTime),
		EndTime:   archive.EpochSeconds(c.EndTime),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sourceRow{}).Where("id = ?", row.SourceID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: source %d", archive.ErrNotFound, row.SourceID)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return archive.Chunk{}, err
	}
	return row.chunk(), nil
}

func (s *Store) GetChunk(ctx context.Context, id archive.ChunkID) (archive.Chunk, error) {
	var row chunkRow
	if err := s.db.WithContext(ctx).First(&row, int64(id)).Error; err != nil {
		return archive.Chunk{}, notFound(err)
	}
	return row.chunk(), nil
}

func (s *Store) LastChunk(ctx context.Context, source archive.SourceID) (archive.Chunk, error) {
	var row chunkRow
	err := s.db.WithContext(ctx).
		Where("source_id = ?", int64(source)).
		Order("start_time DESC").Order("id DESC").
		First(&row).Error
	if err != nil {
		return archive.Chunk{}, notFound(err)
	}
	return row.chunk(), nil
}

func (s *Store) ChunkAt(ctx context.Context, source archive.SourceID, t time.Time) (archive.Chunk, error) {
	ts := archive.EpochSeconds(t)
	var row chunkRow
	err := s.db.WithContext(ctx).
		Where("source_id = ? AND start_time <= ? AND end_time >= ?", int64(source), ts, ts).
		Order("start_time").Order("id").
		First(&row).Error
	if err != nil {
		return archive.Chunk{}, notFound(err)
	}
	return row.chunk(), nil
}

func (s *Store) ChunksInRange(ctx context.Context, source archive.SourceID, start, end time.Time) ([]archive.Chunk, error) {
	var rows []chunkRow
	err := s.db.WithContext(ctx).
		Where("source_id = ? AND start_time <= ? AND end_time >= ?",
			int64(source), archive.EpochSeconds(end), archive.EpochSeconds(start)).
		Order("start_time").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]archive.Chunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.chunk())
	}
	return out, nil
}
