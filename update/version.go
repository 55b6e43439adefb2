package update

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a totally-ordered parsed version value. Parsing never fails:
// an unparseable string still yields a Version, just one that sorts below
// every version that did parse cleanly, so a release is never picked over
// one whose tag actually makes sense.
type Version struct {
	raw        string
	major      int64
	minor      int64
	patch      int64
	prerelease string // empty for a pure release
	valid      bool   // false for the unparseable sentinel
	hasDigits  bool   // false for a core with no numeric content at all (e.g. "nightly")
}

// ParseVersion parses a (possibly "v"-prefixed) version string using the
// algorithm in the Version Algebra design: strip the leading v, split the
// numeric core from the prerelease tag at the first '-', coerce each
// dot-separated numeric component to an integer (padding/truncating to
// three), and keep the prerelease tag for ordering.
//
// Masterminds/semver is used first because most tags in the wild are
// already valid semver; the manual fallback below only kicks in for the
// non-standard variants (more than three numeric segments, non-numeric
// components) that a strict semver parser rejects.
func ParseVersion(raw string) Version {
	trimmed := stripVersionPrefix(raw)
	if trimmed == "" {
		return Version{raw: raw}
	}

	if sv, err := semver.NewVersion(trimmed); err == nil {
		return Version{
			raw:        raw,
			major:      int64(sv.Major()),
			minor:      int64(sv.Minor()),
			patch:      int64(sv.Patch()),
			prerelease: sv.Prerelease(),
			valid:      true,
			hasDigits:  true,
		}
	}

	core := trimmed
	pre := ""
	if dash := strings.Index(core, "-"); dash != -1 {
		pre = core[dash+1:]
		core = core[:dash]
	}
	// Drop build metadata, which never affects ordering.
	if plus := strings.Index(pre, "+"); plus != -1 {
		pre = pre[:plus]
	} else if plus := strings.Index(core, "+"); plus != -1 {
		core = core[:plus]
	}

	segments := strings.Split(core, ".")
	nums := make([]int64, 3)
	hasDigits := false
	for i := 0; i < 3; i++ {
		if i >= len(segments) {
			continue
		}
		nums[i] = coerceNumeric(segments[i])
	}
	for _, r := range core {
		if r >= '0' && r <= '9' {
			hasDigits = true
			break
		}
	}

	return Version{
		raw:        raw,
		major:      nums[0],
		minor:      nums[1],
		patch:      nums[2],
		prerelease: pre,
		valid:      true,
		hasDigits:  hasDigits,
	}
}

// stripVersionPrefix trims surrounding whitespace and a leading "v"/"V"
// prefix, the same normalization every consumer of a raw tag name needs
// before displaying or comparing it as a version string.
func stripVersionPrefix(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "v")
	trimmed = strings.TrimPrefix(trimmed, "V")
	return trimmed
}

// coerceNumeric strips trailing non-digit characters and parses what is
// left; a component with no digits at all becomes 0.
func coerceNumeric(s string) int64 {
	end := len(s)
	for end > 0 && (s[end-1] < '0' || s[end-1] > '9') {
		end--
	}
	s = s[:end]
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// String returns the original string this Version was parsed from.
func (v Version) String() string { return v.raw }

// IsPrerelease reports whether the parsed tag carries a prerelease label.
func (v Version) IsPrerelease() bool { return v.prerelease != "" }

// HasNumericCore reports whether the tag's core component contained any
// digit at all. Tags like "nightly-20251122" have no numeric major/minor/
// patch to compare against a normal semver tag; the Release Selector
// falls back to publish date when comparing two releases where this is
// false for either side (see the dev-channel nightly decision in
// DESIGN.md).
func (v Version) HasNumericCore() bool { return v.hasDigits }

// isReleaseFlag is 1 for a pure release, 0 for a prerelease, matching the
// ordering key (major, minor, patch, is_release_flag) from the design.
func (v Version) isReleaseFlag() int {
	if v.prerelease == "" {
		return 1
	}
	return 0
}

// Compare returns -1, 0, or 1 as v orders before, equal to, or after other.
// An unparseable Version (valid == false) orders below every valid
// Version; two unparseable Versions compare equal.
func (v Version) Compare(other Version) int {
	if !v.valid && !other.valid {
		return 0
	}
	if !v.valid {
		return -1
	}
	if !other.valid {
		return 1
	}

	if c := compareInt(v.major, other.major); c != 0 {
		return c
	}
	if c := compareInt(v.minor, other.minor); c != 0 {
		return c
	}
	if c := compareInt(v.patch, other.patch); c != 0 {
		return c
	}
	if c := compareInt(int64(v.isReleaseFlag()), int64(other.isReleaseFlag())); c != 0 {
		return c
	}
	if v.prerelease == other.prerelease {
		return 0
	}
	return comparePrerelease(v.prerelease, other.prerelease)
}

// GreaterThan reports whether v orders strictly after other.
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }

// LessOrEqual reports whether v orders at or before other.
func (v Version) LessOrEqual(other Version) bool { return v.Compare(other) <= 0 }

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// comparePrerelease orders two non-identical prerelease tags
// case-insensitively. A tag is treated as numeric only when it consists
// entirely of digits (e.g. "1" vs "2"), in which case the two are compared
// as integers; any other tag, including a mixed alnum one like "beta2" or
// "beta10", is compared as a plain string, so "alpha" orders before "rc1"
// but "beta10" orders before "beta2" (lexicographic, not numeric-aware).
// Purely numeric tags always order after alphabetic ones.
func comparePrerelease(a, b string) int {
	al, an, aIsNum := splitPrereleaseTag(a)
	bl, bn, bIsNum := splitPrereleaseTag(b)

	if aIsNum != bIsNum {
		if aIsNum {
			return 1 // numeric orders after alphabetic
		}
		return -1
	}
	if aIsNum {
		return compareInt(an, bn)
	}
	return strings.Compare(al, bl)
}

// splitPrereleaseTag lowercases the tag and reports whether it is purely
// numeric (in which case n holds its value), or treated as an alphabetic
// identifier otherwise (l holds the lowercased text).
func splitPrereleaseTag(tag string) (l string, n int64, isNumeric bool) {
	lower := strings.ToLower(tag)
	for _, r := range lower {
		if r < '0' || r > '9' {
			return lower, 0, false
		}
	}
	if lower == "" {
		return lower, 0, false
	}
	v, err := strconv.ParseInt(lower, 10, 64)
	if err != nil {
		return lower, 0, false
	}
	return lower, v, true
}
