// Package crawler defines the core types and collaborator interfaces shared by
// the interpelli harvesting pipeline: notice records, discovery and article
// tasks, the analysis verdict produced for each article, and the storage,
// ledger and publishing capabilities the orchestrator depends on.
package crawler
