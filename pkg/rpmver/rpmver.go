// Package rpmver implements RPM epoch/version/release ordering.
//
// Comparison follows rpmvercmp: strings are split into alternating runs of
// digits and ASCII letters, everything else acts as a separator, '~' sorts
// before anything (including the end of the string) and '^' sorts after the
// end of the string but before any further segment.
package rpmver

import (
	"strings"
)

// EVR is an epoch, version, release triple. An empty epoch compares as "0"
// but is kept verbatim so that identities built from it are not altered.
type EVR struct {
	Epoch   string `json:"epoch,omitempty"`
	Version string `json:"version"`
	Release string `json:"release,omitempty"`
}

// ParseEVR parses "[epoch:]version[-release]". The epoch is split off at the
// first ':' and the release at the first '-' of what remains.
func ParseEVR(s string) EVR {
	var evr EVR
	if i := strings.IndexByte(s, ':'); i >= 0 {
		evr.Epoch, s = s[:i], s[i+1:]
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		evr.Version, evr.Release = s[:i], s[i+1:]
	} else {
		evr.Version = s
	}
	return evr
}

// NormalizedEpoch returns the epoch, defaulting to "0".
func (e EVR) NormalizedEpoch() string {
	if e.Epoch == "" {
		return "0"
	}
	return e.Epoch
}

// String renders the EVR as "[epoch:]version[-release]".
func (e EVR) String() string {
	var b strings.Builder
	if e.Epoch != "" {
		b.WriteString(e.Epoch)
		b.WriteByte(':')
	}
	b.WriteString(e.Version)
	if e.Release != "" {
		b.WriteByte('-')
		b.WriteString(e.Release)
	}
	return b.String()
}

// Serialize renders a canonical form with the epoch always present. Two EVRs
// serialize identically only when their fields are identical after epoch
// defaulting; it is a map key, not an ordering.
func (e EVR) Serialize() string {
	return e.NormalizedEpoch() + ":" + e.Version + "-" + e.Release
}

// Compare returns -1, 0 or 1 when a is older than, equal to or newer than b.
func Compare(a, b EVR) int {
	if ea, eb := a.NormalizedEpoch(), b.NormalizedEpoch(); ea != eb {
		if c := CompareStrings(ea, eb); c != 0 {
			return c
		}
	}
	if a.Version == b.Version && a.Release == b.Release {
		return 0
	}
	if c := CompareStrings(a.Version, b.Version); c != 0 {
		return c
	}
	return CompareStrings(a.Release, b.Release)
}

// Less reports whether e is older than o.
func (e EVR) Less(o EVR) bool {
	return Compare(e, o) < 0
}

// CompareStrings compares two version or release strings segment by segment.
func CompareStrings(a, b string) int {
	if a == b {
		return 0
	}

	one, two := a, b
	for len(one) > 0 || len(two) > 0 {
		one = trimSeparators(one)
		two = trimSeparators(two)

		// tilde sorts before everything else
		if head(one) == '~' || head(two) == '~' {
			if head(one) != '~' {
				return 1
			}
			if head(two) != '~' {
				return -1
			}
			one, two = one[1:], two[1:]
			continue
		}

		// caret sorts after the end of a string, before anything else
		if head(one) == '^' || head(two) == '^' {
			if one == "" {
				return -1
			}
			if two == "" {
				return 1
			}
			if head(one) != '^' {
				return 1
			}
			if head(two) != '^' {
				return -1
			}
			one, two = one[1:], two[1:]
			continue
		}

		if one == "" || two == "" {
			break
		}

		var seg1, seg2 string
		numeric := isDigit(one[0])
		if numeric {
			seg1, one = span(one, isDigit)
			seg2, two = span(two, isDigit)
		} else {
			seg1, one = span(one, isAlpha)
			seg2, two = span(two, isAlpha)
		}

		// Runs of different classes: numbers are newer than letters.
		if seg2 == "" {
			if numeric {
				return 1
			}
			return -1
		}

		if numeric {
			seg1 = strings.TrimLeft(seg1, "0")
			seg2 = strings.TrimLeft(seg2, "0")
			if len(seg1) != len(seg2) {
				if len(seg1) > len(seg2) {
					return 1
				}
				return -1
			}
		}

		if c := strings.Compare(seg1, seg2); c != 0 {
			return c
		}
	}

	switch {
	case one == "" && two == "":
		return 0
	case one == "":
		return -1
	default:
		return 1
	}
}

func head(s string) byte {
	if s == "" {
		return 0
	}
	return s[0]
}

func trimSeparators(s string) string {
	i := 0
	for i < len(s) && !isAlnum(s[i]) && s[i] != '~' && s[i] != '^' {
		i++
	}
	return s[i:]
}

func span(s string, class func(byte) bool) (string, string) {
	i := 0
	for i < len(s) && class(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }
