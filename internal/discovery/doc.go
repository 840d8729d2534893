// Package discovery defines the domain types, sentinel errors and collaborator
// interfaces shared by the search, enrichment, scoring and persistence layers.
// Concrete implementations live in sibling packages so the pipeline can be
// exercised entirely with fakes.
package discovery
