// Package wrapped defines the core types shared by the watch-history
// enrichment pipeline: parsed watch events, catalog metadata, job statuses and
// the aggregate result handed back to callers.
//
// The package has no dependencies on concrete storage or transport clients;
// those live behind the interfaces declared in interfaces.go.
package wrapped
