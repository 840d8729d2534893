package discovery

import "errors"

var (
	// ErrNotFound is returned when the code host has no such repository.
	ErrNotFound = errors.New("repository not found")
	// ErrArchived marks repositories that must never be scored or stored.
	ErrArchived = errors.New("repository archived")
	// ErrConfigurationMissing is returned when a backend lacks a required credential.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrPersistence wraps store failures; it aborts the current run.
	ErrPersistence = errors.New("persistence failure")
)
