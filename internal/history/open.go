package history

import (
	"fmt"

	"github.com/health-risk-engine/internal/domain"
)

// Open builds the store selected by cfg.Backend. The "none" backend
// returns a nil Store, which callers treat as history disabled.
func Open(cfg domain.HistoryConfig, databaseURL string) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "sqlite":
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStoreFromURL(databaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}
