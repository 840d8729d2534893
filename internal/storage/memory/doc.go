// Package memory provides in-process repository and blob stores for tests,
// development and single-shot CLI runs.
package memory
