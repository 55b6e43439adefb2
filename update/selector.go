package update

import (
	"sort"
	"strings"
)

// SelectUpdate filters releases by channel policy, picks the highest-
// versioned candidate with a platform-matching asset, and reports whether
// it is actually newer than currentVersion. It never returns an error:
// missing or unselectable data simply yields (nil, false).
func SelectUpdate(releases []Release, channel Channel, platform, currentVersion string) (*UpdateInfo, bool) {
	filtered := filterByChannel(releases, channel)
	sortCandidates(filtered)

	current := ParseVersion(currentVersion)
	for _, rel := range filtered {
		if len(rel.Assets) == 0 {
			continue
		}
		asset, ok := selectPlatformAsset(rel.Assets, platform)
		if !ok {
			continue
		}
		relVersion := ParseVersion(rel.TagName)
		if noUpdateAvailable(relVersion, current) {
			return nil, false
		}

		info := &UpdateInfo{
			Version:      stripVersionPrefix(rel.TagName),
			DownloadURL:  asset.DownloadURL,
			AssetName:    asset.Name,
			SizeBytes:    asset.Size,
			ReleaseNotes: rel.Body,
			PublishedAt:  rel.PublishedAt,
			IsPrerelease: rel.Prerelease,
		}
		if manifest, ok := findAssetByName(rel.Assets, "checksums.txt"); ok {
			info.ChecksumURL = manifest.DownloadURL
		}
		if sig, ok := findSignatureAsset(rel.Assets, asset.Name); ok {
			info.SignatureURL = sig.DownloadURL
		}
		return info, true
	}
	return nil, false
}

// noUpdateAvailable implements the "Version(selected.tag) <= Version(current)"
// rule. A dated build tag with no numeric core (e.g. a nightly) never fails
// this check on the numeric comparison alone — see the dev-channel nightly
// decision in DESIGN.md — since such tags cannot be meaningfully compared
// to a semver current-version string.
func noUpdateAvailable(selected, current Version) bool {
	if !selected.HasNumericCore() {
		return false
	}
	return selected.LessOrEqual(current)
}

// filterByChannel applies the stable/beta/dev hierarchy. Unknown channel
// values are routed through stable.
func filterByChannel(releases []Release, channel Channel) []Release {
	channel = channel.Normalize()

	out := make([]Release, 0, len(releases))
	for _, r := range releases {
		if !r.Prerelease {
			out = append(out, r)
			continue
		}
		switch channel {
		case ChannelDev:
			out = append(out, r)
		case ChannelBeta:
			tag := strings.ToLower(r.TagName)
			if strings.Contains(tag, "beta") || strings.Contains(tag, "rc") {
				out = append(out, r)
			}
		}
	}
	return out
}

// sortCandidates orders releases by parsed Version descending. When either
// side of a comparison has no numeric core (a date-style tag that cannot
// be compared as a semver value), ordering falls back to PublishedAt so
// that, e.g., a same-day nightly build is preferred over a months-old
// stable release on the dev channel. Ties on Version fall back to
// PublishedAt too, per the design's tiebreak rule. Sort is stable so that
// equally-ranked releases keep their catalog order.
func sortCandidates(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		vi := ParseVersion(releases[i].TagName)
		vj := ParseVersion(releases[j].TagName)

		if !vi.HasNumericCore() || !vj.HasNumericCore() {
			return releases[i].PublishedAt.After(releases[j].PublishedAt)
		}
		if c := vi.Compare(vj); c != 0 {
			return c > 0
		}
		return releases[i].PublishedAt.After(releases[j].PublishedAt)
	})
}

// platformSuffixes lists the accepted artifact suffixes per platform, in
// priority order (first match wins).
var platformSuffixes = map[string][]string{
	PlatformWindows: {".exe", ".msi", ".zip"},
	PlatformMacOS:   {".dmg", ".pkg"},
	PlatformLinux:   {".deb", ".tar.gz", ".appimage", ".rpm"},
}

// selectPlatformAsset picks the best asset for platform by suffix priority,
// falling back to the release's first asset if nothing matches.
func selectPlatformAsset(assets []Asset, platform string) (Asset, bool) {
	if len(assets) == 0 {
		return Asset{}, false
	}
	for _, suffix := range platformSuffixes[platform] {
		for _, a := range assets {
			if strings.HasSuffix(strings.ToLower(a.Name), suffix) {
				return a, true
			}
		}
	}
	return assets[0], true
}

// findAssetByName returns the asset whose name matches exactly (case-sensitive).
func findAssetByName(assets []Asset, name string) (Asset, bool) {
	for _, a := range assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// findSignatureAsset looks for "<assetName>.sig" first, then "<assetName>.asc".
func findSignatureAsset(assets []Asset, assetName string) (Asset, bool) {
	for _, suffix := range []string{".sig", ".asc"} {
		if a, ok := findAssetByName(assets, assetName+suffix); ok {
			return a, true
		}
	}
	return Asset{}, false
}
