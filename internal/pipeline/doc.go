// Package pipeline runs one watch-history export through parsing, metadata
// resolution and aggregation, reporting lifecycle status along the way.
package pipeline
