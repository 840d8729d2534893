// Package detector decides when a probed deployment page needs a headless render.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/prodscout/internal/discovery"
)

const (
	defaultMinBody       = 2048
	scriptCoveragePct    = 25
	defaultMarkerPattern = "github.com/"
)

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	MinBodyLength int
	markers       [][]byte
}

// NewHeuristic creates a detector. A zero minBody selects the default.
func NewHeuristic(minBody int) *Heuristic {
	if minBody <= 0 {
		minBody = defaultMinBody
	}
	return &Heuristic{
		MinBodyLength: minBody,
		markers: [][]byte{
			[]byte(`id="__next"`),
			[]byte(`id="root"></div>`),
			[]byte(`id="app"></div>`),
			[]byte("data-reactroot"),
			[]byte("ng-version"),
			[]byte("<noscript>you need to enable javascript"),
		},
	}
}

// ShouldPromote reports whether the static response is likely missing content
// that only appears after scripts run. Pages that already link to a repository
// host are never promoted.
func (h *Heuristic) ShouldPromote(resp discovery.FetchResponse) bool {
	if resp.UsedHeadless || resp.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.ToLower(resp.Body)
	if len(body) == 0 {
		return true
	}
	if bytes.Contains(body, []byte(defaultMarkerPattern)) {
		return false
	}
	for _, marker := range h.markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < h.MinBodyLength && scriptCoverage(body) >= scriptCoveragePct
}

// scriptCoverage returns the percentage of body bytes inside <script> elements.
// body must already be lowercased.
func scriptCoverage(body []byte) int {
	total := len(body)
	if total == 0 {
		return 0
	}
	openTag := []byte("<script")
	closeTag := []byte("</script>")

	covered := 0
	for pos := 0; pos < total; {
		rel := bytes.Index(body[pos:], openTag)
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if relEnd := bytes.Index(body[start:], closeTag); relEnd >= 0 {
			end = start + relEnd + len(closeTag)
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
