package mqtt

import "strings"

const sharePrefix = "$share/"

// TopicsMatch reports whether topic matches filter. Filters may use the
// single-level (+) and multi-level (#) wildcards.
func TopicsMatch(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	for {
		fl, frest, fmore := strings.Cut(filter, "/")
		if fl == "#" {
			return true
		}
		tl, trest, tmore := strings.Cut(topic, "/")
		if fl != "+" && fl != tl {
			return false
		}
		if !fmore || !tmore {
			// "a/#" also matches "a"
			return fmore == tmore || (fmore && frest == "#")
		}
		filter, topic = frest, trest
	}
}

// stripShare removes a $share/<group>/ prefix from a shared subscription.
func stripShare(filter string) string {
	if !strings.HasPrefix(filter, sharePrefix) {
		return filter
	}
	_, rest, ok := strings.Cut(filter[len(sharePrefix):], "/")
	if !ok {
		return filter
	}
	return rest
}
