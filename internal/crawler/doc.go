// Package crawler defines the types and collaborator interfaces shared by the
// lead pipeline: discovery strategies, fetch requests, enriched items, the
// delivery payload, retry and politeness helpers.
package crawler
