package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/metadata"
)

// postRow is the relational shape of a record
type postRow struct {
	ID        uint                  `gorm:"primaryKey"`
	Platform  string                `gorm:"not null;uniqueIndex:idx_posts_platform_post"`
	PostID    string                `gorm:"column:post_id;not null;uniqueIndex:idx_posts_platform_post"`
	UserName  string                `gorm:"column:user_name;index"`
	Timestamp *time.Time            `gorm:"column:posted_at"`
	Location  string                `gorm:"column:location"`
	Text      string                `gorm:"column:text"`
	Media     []metadata.MediaEntry `gorm:"serializer:json;type:jsonb"`
	CreatedAt time.Time
}

func (postRow) TableName() string { return "posts" }

func toRow(platform string, rec metadata.Record) postRow {
	return postRow{
		Platform:  platform,
		PostID:    rec.PostID,
		UserName:  rec.User,
		Timestamp: rec.Timestamp,
		Location:  rec.Location,
		Text:      rec.Text,
		Media:     rec.Media,
	}
}

// SQLSink stores records in a Postgres posts table through gorm
type SQLSink struct {
	db       *gorm.DB
	platform string
	log      logger.Logger
}

// NewSQLSink opens dsn and migrates the posts table
func NewSQLSink(dsn, platform string, log logger.Logger) (*SQLSink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&postRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate posts table: %w", err)
	}
	return &SQLSink{db: db, platform: platform, log: log}, nil
}

func (s *SQLSink) InsertUnique(ctx context.Context, rec metadata.Record) error {
	row := toRow(s.platform, rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return classifySQLError(rec.PostID, err)
	}
	s.log.DebugWithFields("Record inserted", map[string]interface{}{"post_id": rec.PostID})
	return nil
}

func classifySQLError(postID string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Wrap(errs.ErrorTypeDuplicate, err, fmt.Sprintf("post %s already recorded", postID))
	}
	return fmt.Errorf("failed to insert post %s: %w", postID, err)
}

func (s *SQLSink) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogger routes gorm's logging into the run logger
type gormLogger struct {
	log           logger.Logger
	slowThreshold time.Duration
}

func newGormLogger(log logger.Logger) *gormLogger {
	return &gormLogger{log: log.WithField("source", "gorm"), slowThreshold: 200 * time.Millisecond}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := map[string]interface{}{
		"elapsed": elapsed,
		"rows":    rows,
		"sql":     sql,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrDuplicatedKey):
		l.log.WithError(err).ErrorWithFields("database query failed", fields)
	case elapsed > l.slowThreshold:
		l.log.WarnWithFields("slow query detected", fields)
	default:
		l.log.DebugWithFields("database query executed", fields)
	}
}
