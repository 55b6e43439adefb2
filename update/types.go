// Package update implements the update-distribution core: fetching the
// release catalog, selecting the right release for a channel/platform,
// streaming the chosen artifact to disk, and verifying it before it is
// handed back to the host application for installation.
package update

import "time"

// Platform identifiers understood by the Release Selector.
const (
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
)

// Channel is a user-selectable policy bucket governing which releases are
// visible to the selector.
type Channel string

const (
	ChannelStable Channel = "stable"
	ChannelBeta   Channel = "beta"
	ChannelDev    Channel = "dev"
)

// Normalize maps unrecognized or legacy channel values onto one of the
// three supported buckets. Per the migration note this implementation
// resolves: "beta" is a first-class channel (stable releases plus
// beta/rc-tagged prereleases), not an alias that migrates to "dev" — see
// the channel-policy decision in DESIGN.md. Anything else unrecognized
// falls back to stable.
func (c Channel) Normalize() Channel {
	switch c {
	case ChannelStable, ChannelBeta, ChannelDev:
		return c
	default:
		return ChannelStable
	}
}

// Asset is a single downloadable file attached to a Release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}

// Release mirrors one entry of a GitHub-compatible releases listing.
type Release struct {
	TagName     string    `json:"tag_name"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
	Body        string    `json:"body"`
}

// UpdateInfo is the Release Selector's output: everything the orchestrator
// needs to download and verify one artifact.
type UpdateInfo struct {
	Version       string    `json:"version"`
	DownloadURL   string    `json:"download_url"`
	AssetName     string    `json:"asset_name"`
	SizeBytes     int64     `json:"size_bytes"`
	ReleaseNotes  string    `json:"release_notes,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	IsPrerelease  bool      `json:"is_prerelease"`
	ChecksumURL   string    `json:"checksum_url,omitempty"`
	SignatureURL  string    `json:"signature_url,omitempty"`
}

// Settings are the user-facing, persisted update preferences.
type Settings struct {
	Channel Channel `json:"channel"`
	Owner   string  `json:"owner"`
	Repo    string  `json:"repo"`
}

// DefaultSettings returns the settings used when no settings file exists
// yet: the stable channel and the given owner/repo.
func DefaultSettings(owner, repo string) Settings {
	return Settings{Channel: ChannelStable, Owner: owner, Repo: repo}
}

// CatalogCache is the on-disk/in-memory snapshot of the last successful
// (or 304-refreshed) catalog fetch.
type CatalogCache struct {
	LastCheck time.Time `json:"last_check"`
	Releases  []Release `json:"releases"`
	ETag      string    `json:"etag"`
	Channel   Channel   `json:"channel"`
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
}

// matches reports whether this cache entry was produced for the given
// identifying triple; a mismatch means the cache must be treated as absent.
func (c *CatalogCache) matches(channel Channel, owner, repo string) bool {
	if c == nil {
		return false
	}
	return c.Channel == channel && c.Owner == owner && c.Repo == repo
}

// DownloadProgressFunc reports streaming download progress. bytesWritten
// is cumulative; total is 0 when the server did not send Content-Length.
type DownloadProgressFunc func(bytesWritten, total int64)

// State is a lifecycle phase of one check+download attempt, mirroring the
// state machine in the design notes.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetch_catalog"
	StateSelected    State = "selected"
	StateNoUpdate    State = "no_update"
	StateNoAsset     State = "no_asset"
	StateDownloading State = "downloading"
	StateCancelled   State = "cancelled"
	StateIOFailed    State = "io_fail"
	StateVerifySHA   State = "verify_sha"
	StateSHAFailed   State = "sha_fail"
	StateVerifySig   State = "verify_sig"
	StateSigFailed   State = "sig_fail"
	StateStaged      State = "staged"
)

// Diagnostics is a point-in-time snapshot used by support tooling.
type Diagnostics struct {
	RunID          string        `json:"run_id"`
	Owner          string        `json:"owner"`
	Repo           string        `json:"repo"`
	Channel        Channel       `json:"channel"`
	Platform       string        `json:"platform"`
	LastHTTPStatus int           `json:"last_http_status"`
	CacheAge       time.Duration `json:"cache_age_ns"`
	State          State         `json:"state"`
}
