// Command updatecli is a small demonstration program exercising the
// update library: it checks a GitHub-compatible release catalog, downloads
// the selected artifact, verifies it, and reports progress — either as a
// one-shot check or, with -watch, as a periodic background poll.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"cumulus/update"
	"cumulus/internal/applog"
	"cumulus/internal/paths"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML runtime config file (optional)")
		owner      = flag.String("owner", "", "release catalog owner (overrides config)")
		repo       = flag.String("repo", "", "release catalog repo (overrides config)")
		channel    = flag.String("channel", "", "update channel: stable, beta, or dev (overrides config)")
		version    = flag.String("current-version", "", "currently installed version (overrides config)")
		watch      = flag.Bool("watch", false, "poll for updates on an interval instead of checking once")
		asService  = flag.Bool("service", false, "run the watch loop under the OS service manager")
		logLevel   = flag.String("log-level", "INFO", "ERROR, WARN, INFO, DEBUG, or TRACE")
	)
	flag.Parse()

	cfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	if *owner != "" {
		cfg.Owner = *owner
	}
	if *repo != "" {
		cfg.Repo = *repo
	}
	if *channel != "" {
		cfg.Channel = *channel
	}
	if *version != "" {
		cfg.CurrentVersion = *version
	}
	if cfg.Platform == "" {
		cfg.Platform = hostPlatform()
	}

	logDir, err := paths.LogDirectory("updater")
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolving log directory:", err)
		os.Exit(1)
	}
	logger := applog.New(applog.LevelFromString(*logLevel), logDir, 500)
	logger.SetConsoleOutput(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))
	defer logger.Close()

	if *asService {
		runAsService(cfg, logger)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *watch {
		watchLoop(ctx, cfg, logger)
		return
	}

	if err := checkOnce(ctx, cfg, logger); err != nil {
		logger.Error("update check failed", "error", err.Error())
		os.Exit(1)
	}
}

func hostPlatform() string {
	switch runtime.GOOS {
	case "windows":
		return update.PlatformWindows
	case "darwin":
		return update.PlatformMacOS
	default:
		return update.PlatformLinux
	}
}

func newService(cfg runtimeConfig, logger *applog.Logger) (*update.Service, error) {
	settingsPath, err := paths.SettingsPath("updater")
	if err != nil {
		return nil, err
	}
	cachePath, err := paths.CachePath("updater")
	if err != nil {
		return nil, err
	}
	stagingDir, err := paths.StagingDirectory("updater")
	if err != nil {
		return nil, err
	}

	var armoredKey string
	if cfg.PublicKeyPath != "" {
		data, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			logger.Warn("could not read signing public key, signature verification will be unavailable", "path", cfg.PublicKeyPath, "error", err.Error())
		} else {
			armoredKey = string(data)
		}
	}

	return update.NewService(update.ServiceOptions{
		Owner:            cfg.Owner,
		Repo:             cfg.Repo,
		Platform:         cfg.Platform,
		CurrentVersion:   cfg.CurrentVersion,
		SettingsPath:     settingsPath,
		CachePath:        cachePath,
		StagingDir:       stagingDir,
		ArmoredPublicKey: armoredKey,
		Logger:           logger,
	})
}

func checkOnce(ctx context.Context, cfg runtimeConfig, logger *applog.Logger) error {
	svc, err := newService(cfg, logger)
	if err != nil {
		return err
	}

	settings := svc.Settings()
	if cfg.Channel != "" {
		settings.Channel = update.Channel(cfg.Channel)
		if err := svc.UpdateSettings(settings); err != nil {
			return err
		}
	}

	logger.Info("checking for updates", "owner", cfg.Owner, "repo", cfg.Repo, "channel", string(settings.Channel))
	info, ok, err := svc.CheckForUpdates(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("no update available")
		return nil
	}

	logger.Info("update found", "version", info.Version, "asset", info.AssetName, "size", humanize.Bytes(uint64(info.SizeBytes)))

	var lastPercent int
	path, err := svc.DownloadAndVerify(ctx, info, func(written, total int64) {
		if total <= 0 {
			return
		}
		percent := int((written * 100) / total)
		if percent != lastPercent {
			lastPercent = percent
			logger.Debug("download progress", "percent", percent, "written", humanize.Bytes(uint64(written)))
		}
	})
	if err != nil {
		if update.IsKind(err, update.ErrSignatureUnavailable) && path != "" {
			logger.Warn("update staged without signature verification", "path", path, "error", err.Error())
			return nil
		}
		return err
	}

	logger.Info("update staged", "path", path)
	return nil
}

func watchLoop(ctx context.Context, cfg runtimeConfig, logger *applog.Logger) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Hour
	}

	logger.Info("starting watch loop", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := checkOnce(ctx, cfg, logger); err != nil {
			logger.Error("update check failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			logger.Info("watch loop stopping")
			return
		case <-ticker.C:
		}
	}
}
