// Package cache provides tag versioned read-through caching. Entries
// remember the version of every tag they were loaded under; invalidating
// a tag bumps its version so older entries stop matching.
package cache

import (
	"context"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	goerrors "github.com/goliatone/go-errors"
)

// Loader produces the fresh value on a cache miss
type Loader func(ctx context.Context) ([]byte, error)

// Cache is the read-through cache collaborator used by the ledger.
type Cache interface {
	// ReadThrough returns the cached value for key if none of tags were
	// invalidated since it was stored, otherwise it calls load.
	ReadThrough(ctx context.Context, key string, tags []Tag, load Loader) ([]byte, error)
	// InvalidateTags must succeed before a write reports success.
	InvalidateTags(ctx context.Context, tags ...Tag) error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// default unix seconds would drop sub-second precision of cached times
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Get is a typed ReadThrough. Values are stored as CBOR.
func Get[T any](ctx context.Context, c Cache, key string, tags []Tag, load func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw, err := c.ReadThrough(ctx, key, tags, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return encMode.Marshal(v)
	})
	if err != nil {
		return out, err
	}

	if err := decMode.Unmarshal(raw, &out); err != nil {
		return out, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode cached value").
			WithMetadata(map[string]any{"key": key})
	}
	return out, nil
}

// Nop never caches. Every read calls the loader.
type Nop struct{}

func (Nop) ReadThrough(ctx context.Context, _ string, _ []Tag, load Loader) ([]byte, error) {
	return load(ctx)
}

func (Nop) InvalidateTags(context.Context, ...Tag) error {
	return nil
}
