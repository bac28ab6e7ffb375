// Package sink records harvested posts in a document store. Every sink
// enforces one record per post id and reports a second insert as a
// duplicate_record error, which the pipeline treats as "already handled".
package sink

import (
	"context"
	"fmt"
	"strings"

	"snsgrab/pkg/config"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/metadata"
	"snsgrab/pkg/storage"
)

// Sink stores one record per post
type Sink interface {
	// InsertUnique stores rec or returns an ErrorTypeDuplicate error when
	// a record with the same post id exists
	InsertUnique(ctx context.Context, rec metadata.Record) error
	Close(ctx context.Context) error
}

// Open creates the sink selected by cfg.Driver for one platform
func Open(ctx context.Context, cfg config.StoreConfig, platform string, layout *storage.Layout, log logger.Logger) (Sink, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverNone:
		return Nop{}, nil
	case "", config.DriverFile:
		return NewFileSink(layout, platform, log), nil
	case config.DriverMongo:
		return NewMongoSink(ctx, cfg.MongoURI, platform, log)
	case config.DriverPostgres:
		return NewSQLSink(cfg.DSN, platform, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Nop accepts every record
type Nop struct{}

func (Nop) InsertUnique(ctx context.Context, rec metadata.Record) error { return nil }
func (Nop) Close(ctx context.Context) error                             { return nil }
