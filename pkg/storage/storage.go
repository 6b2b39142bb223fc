// Package storage archives analysis results.
//
// An [Archive] is append-only: every freshly computed result is stored as a
// new record, and [Archive.Latest] returns the most recent record for an
// identity. The HTTP API uses it to serve a last-known result while the
// registry index is warming up.
//
// Two backends are provided: [Memory] for tests and single-process runs,
// and [Mongo] for deployments that want results to survive restarts.
package storage

import (
	"context"

	"github.com/matzehuels/cratestatus/pkg/analysis"
	"github.com/matzehuels/cratestatus/pkg/project"
)

// Archive stores analysis results.
type Archive interface {
	// Append records a computed result.
	Append(ctx context.Context, r *analysis.Result) error
	// Latest returns the newest result archived for id, or an error with
	// code NOT_FOUND.
	Latest(ctx context.Context, id project.Identity) (*analysis.Result, error)
	Close() error
}

var (
	_ Archive = (*Memory)(nil)
	_ Archive = (*Mongo)(nil)

	_ analysis.Archiver = Archive(nil)
)
