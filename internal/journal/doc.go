// Package journal defines the domain model shared by the crawl pipeline: the
// canonical journal record, ISSN aliases, per-source fetch state, crawl runs,
// and the persistence interfaces the pipeline depends on.
package journal
