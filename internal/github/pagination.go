package github

import (
	"net/url"
	"strconv"
	"strings"
)

// lastPage returns the page number of the rel="last" link in a Link header.
// With per_page=1 that number is the total item count.
func lastPage(linkHeader string) (int, bool) {
	for _, part := range strings.Split(linkHeader, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isLast := false
		for _, attr := range segments[1:] {
			if strings.TrimSpace(attr) == `rel="last"` {
				isLast = true
				break
			}
		}
		if !isLast {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		u, err := url.Parse(raw)
		if err != nil {
			return 0, false
		}
		page, err := strconv.Atoi(u.Query().Get("page"))
		if err != nil || page < 0 {
			return 0, false
		}
		return page, true
	}
	return 0, false
}
