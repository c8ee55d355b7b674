package store

import (
	"context"
	"fmt"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
)

// Backend is a store that serves both records and the student directory.
type Backend interface {
	attendance.Store
	attendance.Directory
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Postgres)(nil)
	_ Backend = (*Bolt)(nil)
)

// Open connects the backend selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg config.App) (Backend, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return NewPostgres(db), nil
	case "bolt":
		return NewBolt(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.StoreBackend)
	}
}
