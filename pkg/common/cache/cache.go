// Package cache defines the caching contract used across control plane
// packages and provides an in-memory implementation for components that
// need no external cache dependency (single-process deployments, tests).
package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when key is absent or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache stores arbitrary values under string keys with optional
// expiration. Get populates value, which must be a non-nil pointer.
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Flush(ctx context.Context) error
	Close() error
}

type entry struct {
	value     interface{}
	expiresAt time.Time // zero means no expiration
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemory is a process-local Cache backed by sync.Map. It never errors on
// Close; there is no connection to release.
type InMemory struct {
	data sync.Map
}

// NewInMemory creates an empty in-memory cache.
func NewInMemory() *InMemory {
	return &InMemory{}
}

var _ Cache = (*InMemory)(nil)

// Get copies the cached value for key into value, which must be a pointer
// of the same type that was Set. Returns ErrNotFound if key is absent or
// expired.
func (c *InMemory) Get(ctx context.Context, key string, value interface{}) error {
	raw, ok := c.data.Load(key)
	if !ok {
		return ErrNotFound
	}
	e := raw.(entry)
	if e.expired(time.Now()) {
		c.data.Delete(key)
		return ErrNotFound
	}

	dst := reflect.ValueOf(value)
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		return errors.New("cache: Get value must be a non-nil pointer")
	}
	dst.Elem().Set(reflect.ValueOf(e.value))
	return nil
}

// Set stores value under key, expiring it after ttl (or never, if ttl<=0).
func (c *InMemory) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.data.Store(key, e)
	return nil
}

// Delete removes key, if present.
func (c *InMemory) Delete(ctx context.Context, key string) error {
	c.data.Delete(key)
	return nil
}

// Exists reports whether key is present and unexpired.
func (c *InMemory) Exists(ctx context.Context, key string) (bool, error) {
	raw, ok := c.data.Load(key)
	if !ok {
		return false, nil
	}
	if raw.(entry).expired(time.Now()) {
		c.data.Delete(key)
		return false, nil
	}
	return true, nil
}

// Flush clears every entry.
func (c *InMemory) Flush(ctx context.Context) error {
	c.data.Range(func(k, _ interface{}) bool {
		c.data.Delete(k)
		return true
	})
	return nil
}

// Close is a no-op; InMemory owns no external connection.
func (c *InMemory) Close() error {
	return nil
}
