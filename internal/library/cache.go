package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"
)

const (
	featurePrefix    = "feature/"
	persistentPrefix = "persistent/"

	// AwaitPriority is used for jobs a caller is blocked on.
	AwaitPriority = 100
	// BackgroundPriority is used for prefetching.
	BackgroundPriority = 0
)

type CacheConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Workers  int
	Logger   *slog.Logger
}

func InMemoryCacheConfig() CacheConfig {
	return CacheConfig{InMemory: true, Workers: 2}
}

// Cache memoizes features by id in badger. Missing entries are computed on
// the job queue.
type Cache struct {
	db     *badger.DB
	queue  *Queue
	logger *slog.Logger
	flight singleflight.Group
}

// badgerLogger adapts slog to badger's logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// OpenCache opens the database and starts the workers that run compute.
func OpenCache(cfg CacheConfig, compute RunFunc) (*Cache, error) {
	if compute == nil {
		return nil, fmt.Errorf("compute function is required")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{logger: cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open feature cache: %w", err)
	}

	c := &Cache{db: db, logger: cfg.Logger}
	c.queue, err = NewQueue(cfg.Workers, func(ctx context.Context, id string) (Features, error) {
		f, err := compute(ctx, id)
		if err != nil {
			return Features{}, err
		}
		f.ID = id
		if err := c.put(f); err != nil {
			return Features{}, err
		}
		return f, nil
	}, cfg.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close stops the queue and closes the database.
func (c *Cache) Close() error {
	qErr := c.queue.Close()
	dbErr := c.db.Close()
	return errors.Join(qErr, dbErr)
}

// Queue exposes the job queue for prefetching.
func (c *Cache) Queue() *Queue {
	return c.queue
}

// Submit schedules id for computation unless it is already cached.
func (c *Cache) Submit(id string, priority int) *Job {
	if f, ok, err := c.GetNow(id); err == nil && ok {
		job := newJob(id, priority, 0)
		job.complete(f, nil)
		return job
	}
	return c.queue.Submit(id, priority)
}

// GetNow returns the cached features without computing anything.
func (c *Cache) GetNow(id string) (Features, bool, error) {
	var f Features
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(featurePrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &f)
		})
	})
	if err != nil {
		return Features{}, false, fmt.Errorf("read features %q: %w", id, err)
	}
	return f, found, nil
}

// GetAwait returns the cached features, computing them at AwaitPriority and
// blocking until they are ready when absent. Concurrent callers for one id
// share a single lookup.
func (c *Cache) GetAwait(ctx context.Context, id string) (Features, error) {
	ch := c.flight.DoChan(id, func() (any, error) {
		f, ok, err := c.GetNow(id)
		if err != nil || ok {
			return f, err
		}
		return c.queue.Submit(id, AwaitPriority).Wait(context.Background())
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Features{}, res.Err
		}
		return res.Val.(Features), nil
	case <-ctx.Done():
		return Features{}, ctx.Err()
	}
}

// Get delivers the features to callback from another goroutine once they are
// available.
func (c *Cache) Get(id string, callback func(Features, error)) {
	go func() {
		callback(c.GetAwait(context.Background(), id))
	}()
}

// MarkPersistent keeps id through Cleanup even when its source is gone.
func (c *Cache) MarkPersistent(id string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(persistentPrefix+id), []byte{1})
	})
}

func (c *Cache) IsPersistent(id string) (bool, error) {
	persistent := false
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(persistentPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		persistent = err == nil
		return err
	})
	return persistent, err
}

// IDs lists the cached ids in key order.
func (c *Cache) IDs() ([]string, error) {
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(featurePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), featurePrefix))
		}
		return nil
	})
	return ids, err
}

// Cleanup removes entries whose source no longer exists, keeping persistent
// ones. It returns the number removed.
func (c *Cache) Cleanup(exists func(id string) bool) (int, error) {
	ids, err := c.IDs()
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, id := range ids {
		if exists(id) {
			continue
		}
		persistent, err := c.IsPersistent(id)
		if err != nil {
			return 0, err
		}
		if !persistent {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range stale {
		if err := wb.Delete([]byte(featurePrefix + id)); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("cleanup features: %w", err)
	}
	c.logger.Debug("feature cache cleaned", "removed", len(stale))
	return len(stale), nil
}

func (c *Cache) put(f Features) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(featurePrefix+f.ID), data)
	})
}
