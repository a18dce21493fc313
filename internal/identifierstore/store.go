// Package identifierstore defines the interface consumed from the
// authoritative identifier service. The live client is out of scope for this
// repo (see SPEC_FULL.md §6); callers inject a concrete implementation or a
// test double.
package identifierstore

import "context"

// Record is one row projected from the authoritative store. Records are not
// assumed to be pre-filtered: the reconciler drops every record that fails
// Eligible (non-public, test, or default-target) itself.
type Record struct {
	Identifier      string
	OwnerID         string
	Target          string
	Status          string
	IsTest          bool
	IsDefaultTarget bool
	IsPublic        bool
}

// Store is the paged read interface the table reconciler consumes.
type Store interface {
	// FetchPage returns up to pageSize records with Identifier > cursor,
	// ordered ascending by Identifier. An empty result means the stream is
	// exhausted.
	FetchPage(ctx context.Context, cursor string, pageSize int) ([]Record, error)
}

// Eligible reports whether a record should be tracked by the checker: public,
// non-test, production, and targeting something other than the service's
// default placeholder.
func Eligible(r Record) bool {
	return r.IsPublic && !r.IsTest && !r.IsDefaultTarget
}
