package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	goerrors "github.com/goliatone/go-errors"
	sitegate "github.com/goliatone/go-sitegate"
)

const (
	entryPrefix = "entry:"
	tagPrefix   = "tag:"

	// DefaultEntryTTL bounds how long an entry may live even if none of
	// its tags are invalidated.
	DefaultEntryTTL = 10 * time.Minute

	invalidateAttempts = 5
)

type envelope struct {
	Versions map[string]uint64 `cbor:"1,keyasint"`
	Value    []byte            `cbor:"2,keyasint"`
}

func (e *envelope) matches(versions map[string]uint64) bool {
	if e == nil || len(e.Versions) != len(versions) {
		return false
	}
	for tag, v := range versions {
		stored, ok := e.Versions[tag]
		if !ok || stored != v {
			return false
		}
	}
	return true
}

// Options configures OpenBadger
type Options struct {
	// Dir is the badger directory. Empty runs in memory.
	Dir      string
	EntryTTL time.Duration
	Logger   sitegate.Logger
}

// Stats counts cache hits and misses
type Stats struct {
	Hits   uint64
	Misses uint64
}

// BadgerCache implements Cache on top of badger. Tag versions are plain
// counters stored without TTL.
type BadgerCache struct {
	db       *badger.DB
	entryTTL time.Duration
	logger   sitegate.Logger
	hits     atomic.Uint64
	misses   atomic.Uint64
}

var _ Cache = (*BadgerCache)(nil)

// OpenBadger opens a badger database and wraps it.
func OpenBadger(opts Options) (*BadgerCache, error) {
	logger := sitegate.NormalizeLogger(opts.Logger)

	bopts := badger.DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = badgerLogger{logger}
	bopts.CompactL0OnClose = true

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open badger cache")
	}

	return NewBadgerCache(db, opts.EntryTTL, logger), nil
}

// NewBadgerCache wraps an open badger database.
func NewBadgerCache(db *badger.DB, entryTTL time.Duration, logger sitegate.Logger) *BadgerCache {
	if entryTTL <= 0 {
		entryTTL = DefaultEntryTTL
	}
	return &BadgerCache{
		db:       db,
		entryTTL: entryTTL,
		logger:   sitegate.NormalizeLogger(logger),
	}
}

// ReadThrough implements Cache. Tag versions are captured before load runs,
// so an invalidation racing with the load leaves a stale envelope that the
// next read rejects. A broken cache degrades to calling load.
func (c *BadgerCache) ReadThrough(ctx context.Context, key string, tags []Tag, load Loader) ([]byte, error) {
	tags = normalizeTags(tags)

	versions, entry, err := c.lookup(key, tags)
	if err != nil {
		c.logger.Warn("cache lookup failed", "key", key, "error", err)
		c.misses.Add(1)
		return load(ctx)
	}

	if entry.matches(versions) {
		c.hits.Add(1)
		return entry.Value, nil
	}

	c.misses.Add(1)

	value, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store(key, versions, value); err != nil {
		c.logger.Warn("cache store failed", "key", key, "error", err)
	}

	return value, nil
}

// InvalidateTags implements Cache. Conflicting concurrent bumps are retried.
func (c *BadgerCache) InvalidateTags(ctx context.Context, tags ...Tag) error {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}

	var err error
	for attempt := 0; attempt < invalidateAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sitegate.Transient(ctxErr, "cache invalidation canceled")
		}

		err = c.db.Update(func(txn *badger.Txn) error {
			for _, tag := range tags {
				v, err := readVersion(txn, tag)
				if err != nil {
					return err
				}
				if err := txn.Set(tagKey(tag), encodeVersion(v+1)); err != nil {
					return err
				}
			}
			return nil
		})

		if goerrors.Is(err, badger.ErrConflict) {
			continue
		}
		break
	}

	if err != nil {
		return sitegate.Transient(err, fmt.Sprintf("failed to invalidate tags %v", tags))
	}
	return nil
}

// Version returns the current version of tag
func (c *BadgerCache) Version(tag Tag) (uint64, error) {
	var v uint64
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		v, err = readVersion(txn, tag)
		return err
	})
	return v, err
}

// Stats returns hit and miss counters since the cache was opened.
func (c *BadgerCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) lookup(key string, tags []Tag) (map[string]uint64, *envelope, error) {
	versions := make(map[string]uint64, len(tags))
	var entry *envelope

	err := c.db.View(func(txn *badger.Txn) error {
		for _, tag := range tags {
			v, err := readVersion(txn, tag)
			if err != nil {
				return err
			}
			versions[string(tag)] = v
		}

		item, err := txn.Get(entryKey(key))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var env envelope
			if err := decMode.Unmarshal(val, &env); err != nil {
				return err
			}
			entry = &env
			return nil
		})
	})

	return versions, entry, err
}

func (c *BadgerCache) store(key string, versions map[string]uint64, value []byte) error {
	data, err := encMode.Marshal(envelope{Versions: versions, Value: value})
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(entryKey(key), data).WithTTL(c.entryTTL))
	})
}

func readVersion(txn *badger.Txn, tag Tag) (uint64, error) {
	item, err := txn.Get(tagKey(tag))
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt version for tag %q", tag)
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func encodeVersion(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func entryKey(key string) []byte {
	return []byte(entryPrefix + key)
}

func tagKey(tag Tag) []byte {
	return []byte(tagPrefix + string(tag))
}

type badgerLogger struct {
	logger sitegate.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Infof is dropped: badger is chatty at info level.
func (l badgerLogger) Infof(string, ...any) {}

func (l badgerLogger) Debugf(string, ...any) {}
