package notifications

import "strings"

// NormalizeURL reduces a website to the form stored in allowedWebsites:
// lowercase, without scheme, leading "www." or trailing slashes.
func NormalizeURL(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(value, "://"); i >= 0 {
		value = value[i+3:]
	}
	value = strings.TrimPrefix(value, "www.")
	return strings.TrimRight(value, "/")
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if NormalizeURL(value) == target {
			return true
		}
	}
	return false
}
