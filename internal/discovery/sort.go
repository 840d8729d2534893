package discovery

import "strings"

// DefaultSort orders listings by descending score.
const DefaultSort = "-score"

var sortColumns = map[string]string{
	"repo_url":            "repo_url",
	"owner":               "owner",
	"repo":                "repo",
	"stars":               "stars",
	"forks":               "forks",
	"commits":             "commits",
	"contributors":        "contributors",
	"readme_len":          "readme_len",
	"license":             "license",
	"language":            "language",
	"score":               "score",
	"category":            "category",
	"trufflehog_findings": "trufflehog_findings",
	"bandit_findings":     "bandit_findings",
	"total_files":         "total_files",
	"total_lines":         "total_lines",
	"last_processed":      "last_processed",
}

// ResolveSort maps a sort expression such as "-stars" to a whitelisted column
// and direction. Unknown fields fall back to DefaultSort.
func ResolveSort(expr string) (column string, desc bool) {
	expr = strings.TrimSpace(expr)
	desc = strings.HasPrefix(expr, "-")
	field := strings.TrimPrefix(expr, "-")
	column, ok := sortColumns[field]
	if !ok {
		return "score", true
	}
	return column, desc
}
