package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// Supported code hosts.
const (
	HostGitHub = "github.com"
	HostGitLab = "gitlab.com"
)

// reservedOwners are first path segments on github.com that never name an owner.
var reservedOwners = map[string]struct{}{
	"about": {}, "apps": {}, "collections": {}, "explore": {}, "features": {},
	"join": {}, "login": {}, "marketplace": {}, "notifications": {}, "orgs": {},
	"pricing": {}, "search": {}, "settings": {}, "site": {}, "sponsors": {},
	"topics": {},
}

// RepoRef identifies a repository on a code host.
type RepoRef struct {
	Host  string
	Owner string
	Name  string
}

// URL returns the canonical repository URL.
func (r RepoRef) URL() string {
	return fmt.Sprintf("https://%s/%s/%s", r.Host, r.Owner, r.Name)
}

// IsGitHub reports whether the reference can be enriched.
func (r RepoRef) IsGitHub() bool {
	return r.Host == HostGitHub
}

// ParseRepoURL extracts the host, owner and repository from a repository URL.
// Only the first two path segments are kept; a trailing ".git" is dropped.
func ParseRepoURL(raw string) (RepoRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return RepoRef{}, fmt.Errorf("parse repo url: %w", err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != HostGitHub && host != HostGitLab {
		return RepoRef{}, fmt.Errorf("unsupported repository host %q", host)
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return RepoRef{}, fmt.Errorf("repo url %q lacks owner/name", raw)
	}
	owner := trimSegment(parts[0])
	name := strings.TrimSuffix(trimSegment(parts[1]), ".git")
	if owner == "" || name == "" {
		return RepoRef{}, fmt.Errorf("repo url %q lacks owner/name", raw)
	}
	if host == HostGitHub {
		if _, reserved := reservedOwners[strings.ToLower(owner)]; reserved {
			return RepoRef{}, fmt.Errorf("repo url %q points at a reserved path", raw)
		}
	}
	return RepoRef{Host: host, Owner: owner, Name: name}, nil
}

// NormalizeRepoURL returns the canonical form of raw, or "" if it is not a repository URL.
func NormalizeRepoURL(raw string) string {
	ref, err := ParseRepoURL(raw)
	if err != nil {
		return ""
	}
	return ref.URL()
}

func trimSegment(s string) string {
	return strings.TrimRight(s, ".,;:!?)]}'\"")
}
