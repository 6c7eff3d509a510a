package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/assay/internal/adapters/repository"
	"github.com/okian/assay/internal/config"
	"github.com/okian/assay/pkg/logger"
)

// Storage bundles the stores the service needs.
type Storage struct {
	Ledger      repository.LedgerStore
	Archive     repository.ArchiveStore
	Evaluations repository.EvaluationStore

	closers []func() error
}

// Close releases every opened backend.
func (s *Storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewMemoryStorage keeps everything in process.
func NewMemoryStorage() *Storage {
	mem := repository.NewMemoryStore()
	return &Storage{Ledger: mem, Archive: mem, Evaluations: mem}
}

// OpenStorage opens the ledger store and archive selected by cfg.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	log := logger.Get().Named("storage")
	var st *Storage
	switch cfg.Database.Driver {
	case config.DriverMemory, "":
		st = NewMemoryStorage()
	default:
		db, err := repository.InitDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		gs := repository.NewGormStore(db, repository.WithGormLogger(log))
		st = &Storage{Ledger: gs, Archive: gs, Evaluations: gs, closers: []func() error{gs.Close}}
	}

	if cfg.Archive.Backend == config.ArchiveQdrant {
		qa, err := repository.NewQdrantArchive(cfg.Archive)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open qdrant archive: %w", err)
		}
		st.closers = append(st.closers, qa.Close)
		if err := qa.EnsureCollection(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("ensure qdrant collection: %w", err)
		}
		st.Archive = qa
	}
	log.Info(ctx, "storage ready",
		logger.String("driver", cfg.Database.Driver),
		logger.String("archive", cfg.Archive.Backend))
	return st, nil
}
