package main

import (
	"context"
	"time"

	"github.com/kardianos/service"

	"cumulus/internal/applog"
)

// watchProgram adapts watchLoop to the kardianos/service.Interface so the
// same polling logic can run interactively or as an OS-managed background
// service (Windows service, launchd agent, systemd unit).
type watchProgram struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cfg    runtimeConfig
	logger *applog.Logger
	svcLog service.Logger
}

func (p *watchProgram) Start(s service.Service) error {
	p.svcLog, _ = s.Logger(nil)
	if p.svcLog != nil {
		p.svcLog.Info("update watcher starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		watchLoop(p.ctx, p.cfg, p.logger)
	}()
	return nil
}

func (p *watchProgram) Stop(s service.Service) error {
	if p.svcLog != nil {
		p.svcLog.Info("update watcher stop requested")
	}
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-time.After(30 * time.Second):
		if p.svcLog != nil {
			p.svcLog.Warning("update watcher did not stop within the grace period")
		}
	}
	return nil
}

// runAsService runs the watch loop under the platform's service manager.
// It blocks until the service is stopped. It does not install the service;
// the service must already be registered with the service manager.
func runAsService(cfg runtimeConfig, logger *applog.Logger) {
	svcConfig := &service.Config{
		Name:        "CumulusUpdateWatcher",
		DisplayName: "Cumulus Update Watcher",
		Description: "Periodically checks for and stages application updates.",
	}

	prog := &watchProgram{cfg: cfg, logger: logger}
	svc, err := service.New(prog, svcConfig)
	if err != nil {
		logger.Error("failed to initialize service wrapper", "error", err.Error())
		return
	}
	if err := svc.Run(); err != nil {
		logger.Error("service run failed", "error", err.Error())
	}
}
