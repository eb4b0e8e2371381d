// Package store defines interfaces for persistence dependencies (job status
// and result storage). Implementations live in other packages; this package
// must not import database drivers or concrete clients.
package store
