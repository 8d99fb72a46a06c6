// Package crawler holds the domain model for the lead discovery service:
// source configurations, crawl jobs with their lifecycle, extracted leads,
// per-URL fetch logs, and the narrow store interfaces the pipeline consumes.
//
// Concrete implementations live elsewhere (internal/storage, internal/fetch,
// internal/ratelimit); this package has no I/O of its own.
package crawler
