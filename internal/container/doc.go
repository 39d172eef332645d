// Package container provides SQLite-backed hierarchical containers.
//
// A container is a single file holding a tree of named nodes:
//   - Groups: named nodes with attributes and children
//   - Tables: schema-typed record tables (columns of int, real, text, bool)
//   - Arrays: named n-dimensional numeric arrays with dtype and shape
//
// Both fitted-model containers and sequence stores are laid out in this
// idiom; they differ only in which nodes they create under the root.
//
// # Critical Patterns
//
// Single writer: one open handle per path. The package does no locking
// beyond what SQLite provides and callers must not open the same path twice
// for writing.
//
// Atomic scopes: Update runs a function inside one transaction, so a failed
// write leaves no partial node behind.
//
// Exact versioning: Open rejects files whose container schema version
// differs from the one this build writes. There are no migrations.
//
// # Database Configuration
//
//   - journal_mode=DELETE: the container is one file, no WAL sidecars
//   - synchronous=FULL: containers are written once and kept
//   - foreign_keys=ON: child nodes are removed with their parents
package container
