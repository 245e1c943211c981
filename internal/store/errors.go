package store

import "errors"

var (
	// ErrStorage indicates a permanent vector store failure.
	ErrStorage = errors.New("storage error")

	// ErrSchemaMismatch indicates the existing documents table has a
	// different embedding dimension than configured. Fatal at startup
	// unless schema reset is allowed.
	ErrSchemaMismatch = errors.New("embedding dimension mismatch")
)
