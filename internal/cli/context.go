package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	fsbackend "github.com/banux/mathom/internal/backend/fs"
	sqlitebackend "github.com/banux/mathom/internal/backend/sqlite"
	"github.com/banux/mathom/internal/catalog"
	"github.com/banux/mathom/internal/config"
	"github.com/banux/mathom/internal/ingest"
	"github.com/banux/mathom/internal/logging"
	"github.com/banux/mathom/internal/storage"
)

// lockFilename guards the data directory against concurrent processes.
const lockFilename = "mathom.lock"

// errLocked means another mathom process owns the data directory.
var errLocked = errors.New("catalog is in use by another mathom process")

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	logger     *slog.Logger
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads configuration and the logger once per process.
func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			path = config.FindConfigFile()
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// library is an open catalog plus the lock that makes this process its
// only user.
type library struct {
	cfg   config.Config
	store catalog.Store
	svc   *ingest.Service
	lock  *flock.Flock
}

// openLibrary locks the data directory and opens the configured store.
func (c *commandContext) openLibrary() (*library, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, lockFilename))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errLocked
	}

	store, err := openStore(cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	layout := storage.Layout{CoversDir: cfg.CoversDir, ExtractDir: cfg.ExtractDir}
	return &library{
		cfg:   cfg,
		store: store,
		svc:   ingest.New(store, layout, c.logger),
		lock:  lock,
	}, nil
}

func openStore(cfg config.Config) (catalog.Store, error) {
	switch cfg.Backend {
	case config.BackendFS:
		return fsbackend.New(cfg.DataDir)
	case config.BackendSQLite:
		return sqlitebackend.New(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Close closes the store and releases the lock.
func (l *library) Close() error {
	err := l.store.Close()
	if uerr := l.lock.Unlock(); uerr != nil && err == nil {
		err = fmt.Errorf("release lock: %w", uerr)
	}
	return err
}
