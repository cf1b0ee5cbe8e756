// Package blobio defines the "blob capability" external collaborator
// spec §6 names: the minimal byte-oriented storage operations a Store
// needs regardless of backend (local filesystem, object store). List is
// not one of spec §6's named operations but is required by spec §4.6
// step 2 ("scanning the final directory for the maximum existing
// sequence"), so it is added here as a necessary extension of the
// capability rather than invented scope.
package blobio

import "context"

// Backend is the byte-level storage contract stores/local and stores/blob
// drive through the staging/promotion protocol in store/staging.
type Backend interface {
	// Upload writes data to path, creating parent "directories" first if
	// the backend has a directory concept.
	Upload(ctx context.Context, path string, data []byte) error

	// Read returns the bytes at path, or ok=false if path does not exist.
	Read(ctx context.Context, path string) (data []byte, ok bool, err error)

	// Move relocates src to dst; for backends without an atomic rename
	// (most object stores), this is copy-then-delete.
	Move(ctx context.Context, src, dst string) error

	// Delete removes a single object at path. Deleting a path that does
	// not exist is not an error.
	Delete(ctx context.Context, path string) error

	// DeleteDirectory removes everything under path; recursive must be
	// true for backends that have no shallow-directory-delete concept.
	DeleteDirectory(ctx context.Context, path string, recursive bool) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// EnsureParents creates any parent structure path needs before a
	// subsequent Upload; a no-op for backends with no directory concept.
	EnsureParents(ctx context.Context, path string) error

	// List returns every object path directly under prefix (not
	// recursive), used to reconcile the sequence counter on startup.
	List(ctx context.Context, prefix string) ([]string, error)
}
