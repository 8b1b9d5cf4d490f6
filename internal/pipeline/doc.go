// Package pipeline runs a crawl: the collector walks the authoritative
// listing page by page, the detail fetcher enriches every discovered journal
// from the secondary sources, and the runner coordinates both for full,
// continue and retry runs.
package pipeline
