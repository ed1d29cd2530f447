package datastore

import (
	"context"

	"gorm.io/gorm"
)

// ContextKey represents a context value key.
type ContextKey string

// ContextKeyTransaction carries the current DB transaction in a context.
const ContextKeyTransaction = ContextKey("transaction")

// Store abstracts the catalog database connection.
type Store interface {
	// Open opens the connection to the database.
	Open() error
	// Close closes the connection.
	Close()
	// CreateTransaction begins a transaction and puts it in the context.
	CreateTransaction(ctx context.Context) context.Context
	// GetTransaction returns the transaction carried by the context.
	GetTransaction(ctx context.Context) *gorm.DB
	// WithNewTransaction runs f inside a fresh transaction, committing on
	// success and rolling back on error.
	WithNewTransaction(f func(ctx context.Context) error) error
	// WithTransaction runs f inside the context transaction, starting one if
	// the context carries none.
	WithTransaction(ctx context.Context, f func(ctx context.Context) error) error
	GetDB() *gorm.DB
}

var instance Store = &postgresStore{}

// GetStore returns the current datastore.
func GetStore() Store {
	return instance
}
