// Package analysis runs clone-based checks on a repository: a shallow git
// clone, source file and line counting, and the trufflehog and bandit scanners.
// Every step degrades instead of failing; a scanner that cannot run reports
// discovery.FindingsUnknown.
package analysis
