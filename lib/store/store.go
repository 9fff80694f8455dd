// Package store defines the interface for database implementations backing the tracker and watcher services.
package store

import (
	"errors"
)

// DB defines required methods for watch subscriptions and scan cursors.
type DB interface {
	// methods for the tracker service
	AddWatch(Watch, string) ([]byte, error)
	RemoveWatch(Watch, string) error
	GetWatches([]string) ([]WatchedOrgs, error)
	// methods for the watcher service
	LoadCursor(string) (Cursor, error)
	SaveCursor(string, Cursor) error
	DeleteCursor(string) error
}

// Errors returned
var (
	ErrWatchNotFound = errors.New("watched organization was not found in store")
	ErrDataNotFound  = errors.New("data was not found in store")
)
