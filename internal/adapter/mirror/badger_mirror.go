package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"campus-assistant/internal/domain"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "session-mirror/"

// Config configures the mirror database.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is true.
	Path     string
	InMemory bool
	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerMirror is a SessionMirror stored in BadgerDB, one JSON snapshot
// per owner.
type BadgerMirror struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens the mirror database.
func Open(cfg Config) (*BadgerMirror, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent mirror")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create mirror directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger mirror: %w", err)
	}
	return &BadgerMirror{db: db, now: time.Now}, nil
}

// Close closes the database.
func (m *BadgerMirror) Close() error {
	return m.db.Close()
}

func (m *BadgerMirror) Save(_ context.Context, ownerID string, snapshot domain.SessionSnapshot) error {
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = m.now()
	}
	value, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mirrorKey(ownerID), value)
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (m *BadgerMirror) Load(_ context.Context, ownerID string) (*domain.SessionSnapshot, error) {
	var snapshot *domain.SessionSnapshot
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mirrorKey(ownerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var s domain.SessionSnapshot
			if err := json.Unmarshal(val, &s); err != nil {
				return err
			}
			snapshot = &s
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot, nil
}

func (m *BadgerMirror) Purge(_ context.Context, ownerID string) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(mirrorKey(ownerID))
	})
	if err != nil {
		return fmt.Errorf("purge snapshot: %w", err)
	}
	return nil
}

func mirrorKey(ownerID string) []byte {
	return []byte(keyPrefix + ownerID)
}

var _ domain.SessionMirror = (*BadgerMirror)(nil)
