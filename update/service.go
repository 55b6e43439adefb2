package update

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cumulus/internal/applog"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Owner            string
	Repo             string
	Platform         string
	CurrentVersion   string
	SettingsPath     string
	CachePath        string
	StagingDir       string
	ArmoredPublicKey string
	CatalogDoer      HTTPDoer
	DownloadDoer     HTTPDoer
	VerifyDoer       HTTPDoer
	Clock            func() time.Time
	Logger           *applog.Logger
}

// Service is the Orchestrator: it owns the settings/cache lifecycle and
// drives one check-then-download attempt through the state machine
// idle → fetch_catalog → selected|no_update|no_asset → downloading →
// verify_sha → verify_sig → staged, with a failure leaf at every step.
type Service struct {
	platform       string
	currentVersion string
	settingsPath   string
	stagingDir     string

	catalog    *CatalogClient
	downloader *Downloader
	verifier   *Verifier
	clock      func() time.Time
	logger     *applog.Logger

	mu             sync.Mutex
	settings       Settings
	state          State
	lastHTTPStatus int
	cacheAge       time.Duration
	runID          string
}

// NewService constructs a Service, loading persisted settings from
// opts.SettingsPath, or defaulting to opts.Owner/opts.Repo/stable when
// that file is missing, unreadable or corrupt.
func NewService(opts ServiceOptions) (*Service, error) {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	settings, err := LoadSettings(opts.SettingsPath, opts.Owner, opts.Repo)
	if err != nil {
		settings = DefaultSettings(opts.Owner, opts.Repo)
	}

	catalog := NewCatalogClient(CatalogClientOptions{
		Owner:     settings.Owner,
		Repo:      settings.Repo,
		CachePath: opts.CachePath,
		Doer:      opts.CatalogDoer,
		Clock:     clock,
		Logger:    opts.Logger,
	})
	downloader := NewDownloader(DownloaderOptions{
		Doer:       opts.DownloadDoer,
		StagingDir: opts.StagingDir,
		Clock:      clock,
	})
	verifier := NewVerifier(VerifierOptions{
		Doer:             opts.VerifyDoer,
		ArmoredPublicKey: opts.ArmoredPublicKey,
	})

	return &Service{
		platform:       opts.Platform,
		currentVersion: opts.CurrentVersion,
		settingsPath:   opts.SettingsPath,
		stagingDir:     opts.StagingDir,
		catalog:        catalog,
		downloader:     downloader,
		verifier:       verifier,
		clock:          clock,
		logger:         opts.Logger,
		settings:       settings,
		state:          StateIdle,
	}, nil
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Settings returns the currently active, persisted settings.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings persists new settings and, if the owner/repo identity
// changed, invalidates the catalog cache and rebuilds the catalog client
// so a stale cache from a different project is never served.
func (s *Service) UpdateSettings(next Settings) error {
	if err := SaveSettings(s.settingsPath, next); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.settings
	s.settings = next
	cachePath := s.catalog.cachePath
	doer := s.catalog.doer
	clock := s.clock
	logger := s.logger
	s.mu.Unlock()

	if prev.Owner != next.Owner || prev.Repo != next.Repo {
		s.catalog.InvalidateCache()
		s.mu.Lock()
		s.catalog = NewCatalogClient(CatalogClientOptions{
			Owner:     next.Owner,
			Repo:      next.Repo,
			CachePath: cachePath,
			Doer:      doer,
			Clock:     clock,
			Logger:    logger,
		})
		s.mu.Unlock()
	}
	return nil
}

// CheckForUpdates fetches the release catalog for the current settings
// and selects a candidate for this platform. It returns (nil, false) with
// no error when the catalog has nothing newer or nothing assetable for
// this platform — that is a normal outcome, not a failure.
func (s *Service) CheckForUpdates(ctx context.Context) (*UpdateInfo, bool, error) {
	s.mu.Lock()
	s.runID = uuid.NewString()
	s.mu.Unlock()
	s.setState(StateFetching)

	settings := s.Settings()
	releases, err := s.catalog.FetchReleases(ctx, settings.Channel)
	s.mu.Lock()
	s.lastHTTPStatus = s.catalog.LastStatus()
	s.cacheAge = s.catalog.CacheAge()
	s.mu.Unlock()
	if err != nil {
		s.setState(StateIdle)
		return nil, false, err
	}

	info, ok := SelectUpdate(releases, settings.Channel, s.platform, s.currentVersion)
	if !ok {
		s.setState(StateNoUpdate)
		return nil, false, nil
	}
	if info.DownloadURL == "" {
		s.setState(StateNoAsset)
		return nil, false, nil
	}

	s.setState(StateSelected)
	return info, true, nil
}

// DownloadAndVerify downloads info's artifact, then verifies its SHA-256
// checksum and (if a signature asset exists) its GPG signature. Every
// verification failure deletes the staged file and returns an empty path,
// except ErrSignatureUnavailable (no trusted key): the file is then kept
// and its path is returned together with that error. A nil error means
// every configured check passed.
func (s *Service) DownloadAndVerify(ctx context.Context, info *UpdateInfo, onProgress DownloadProgressFunc) (string, error) {
	s.setState(StateDownloading)
	path, err := s.downloader.Download(ctx, info.DownloadURL, info.AssetName, info.SizeBytes, onProgress)
	if err != nil {
		if IsKind(err, ErrCancelled) {
			s.setState(StateCancelled)
		} else {
			s.setState(StateIOFailed)
		}
		return "", err
	}

	s.setState(StateVerifySHA)
	if info.ChecksumURL != "" {
		manifest, err := s.verifier.FetchChecksumManifest(ctx, info.ChecksumURL)
		if err != nil {
			s.setState(StateSHAFailed)
			s.downloader.Cleanup(path)
			return "", err
		}
		if err := VerifyChecksum(path, manifest, info.AssetName); err != nil {
			s.setState(StateSHAFailed)
			s.downloader.Cleanup(path)
			return "", err
		}
	}

	s.setState(StateVerifySig)
	if info.SignatureURL != "" {
		if err := s.verifier.VerifySignature(ctx, path, info.SignatureURL); err != nil {
			if !IsKind(err, ErrSignatureUnavailable) {
				s.setState(StateSigFailed)
				s.downloader.Cleanup(path)
				return "", err
			}
			// ErrSignatureUnavailable: no trust material to disprove the
			// artifact with, so it is kept rather than discarded. The
			// pipeline still can't claim full verification, so it reports
			// the path alongside the error rather than unqualified success
			// — callers that only check err == nil correctly treat this as
			// a failure, while callers that want the kept-but-unsigned
			// artifact can read path off the non-nil-error return.
			s.setState(StateStaged)
			return path, err
		}
	}

	s.setState(StateStaged)
	return path, nil
}

// Cleanup removes a staged artifact, e.g. after the host application has
// applied it or abandoned the update.
func (s *Service) Cleanup(path string) {
	s.downloader.Cleanup(path)
}

// Diagnostics returns a point-in-time snapshot for support tooling.
func (s *Service) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Diagnostics{
		RunID:          s.runID,
		Owner:          s.settings.Owner,
		Repo:           s.settings.Repo,
		Channel:        s.settings.Channel,
		Platform:       s.platform,
		LastHTTPStatus: s.lastHTTPStatus,
		CacheAge:       s.cacheAge,
		State:          s.state,
	}
}
