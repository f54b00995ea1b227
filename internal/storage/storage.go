// Package storage abstracts the CSV object store collaborator named
// in spec §6: "save(mailingId, bytes, filename) -> opaque pointer"
// plus an open-for-read-by-pointer operation. The system treats any
// blob-addressable store as a valid backend; this package ships a
// local-filesystem implementation (the default, matching the
// "local fetch to a temp file is permitted" non-goal carve-out) and
// an S3-compatible one for parity with the rest of this codebase.
package storage

import (
	"context"
	"io"
)

// Store is the storage collaborator's interface.
type Store interface {
	// Save persists the given bytes under a pointer derived from
	// mailingID and filename, returning an opaque pointer string.
	Save(ctx context.Context, mailingID, filename string, data io.Reader) (pointer string, err error)

	// Open returns a reader for the object addressed by pointer. The
	// caller owns closing it.
	Open(ctx context.Context, pointer string) (io.ReadCloser, error)
}
