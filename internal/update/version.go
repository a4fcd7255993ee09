package update

import (
	"cmp"
	"strings"
)

// CompareVersions compares two dotted numeric versions.
//
//	-1 if a < b
//	 0 if a == b
//	 1 if a > b
//
// A single leading "v" is ignored. Missing trailing segments count as zero and
// segments that are not non-negative integers also count as zero, so
// "1.2" == "1.2.0" and "1.x" == "1.0".
func CompareVersions(a, b string) int {
	pa := parseSegments(a)
	pb := parseSegments(b)

	n := max(len(pa), len(pb))
	for i := 0; i < n; i++ {
		if c := compareSegment(segmentAt(pa, i), segmentAt(pb, i)); c != 0 {
			return c
		}
	}
	return 0
}

// IsNewer reports whether candidate is strictly newer than current.
func IsNewer(candidate, current string) bool {
	return CompareVersions(candidate, current) > 0
}

// parseSegments returns each segment as a canonical digit string: leading
// zeros stripped, anything that is not all digits replaced by "0". Segments
// are kept as strings so values of any size compare correctly.
func parseSegments(v string) []string {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")

	segments := make([]string, len(parts))
	for i, part := range parts {
		segments[i] = canonicalDigits(part)
	}
	return segments
}

func canonicalDigits(s string) string {
	if s == "" {
		return "0"
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "0"
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}

func segmentAt(segments []string, i int) string {
	if i < len(segments) {
		return segments[i]
	}
	return "0"
}

// compareSegment orders canonical digit strings numerically.
func compareSegment(a, b string) int {
	if len(a) != len(b) {
		return cmp.Compare(len(a), len(b))
	}
	return strings.Compare(a, b)
}
