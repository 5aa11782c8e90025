// Package store defines the composite Store interface for all Hookline
// persistence.
//
// Each subsystem defines its own store interface next to its types; the
// aggregate Store composes them all, so a backend implements the whole
// engine's persistence in one type.
package store

import (
	"context"

	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	catalog.Store
	event.Store
	webhook.Store
	delivery.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
