package cron

import (
	"Murmur/internal/api/config"
	"Murmur/internal/job"
	"Murmur/internal/pkg/consts"
	"context"
	log "log/slog"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

type Manager struct {
	engine           *cron.Cron
	cfg              config.SyncConfig
	presenceSweepJob *job.PresenceSweepJob
	sessionReapJob   *job.SessionReapJob
}

func NewCronManager(cfg config.SyncConfig, presenceSweepJob *job.PresenceSweepJob, sessionReapJob *job.SessionReapJob) *Manager {
	return &Manager{
		engine:           cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:              cfg,
		presenceSweepJob: presenceSweepJob,
		sessionReapJob:   sessionReapJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob(s.cfg.PresenceSweepSpec, s.presenceSweepJob); err != nil {
		return errors.Wrapf(err, "register %s", consts.PresenceSweepJobName)
	}
	if _, err := s.engine.AddJob(s.cfg.SessionReapSpec, s.sessionReapJob); err != nil {
		return errors.Wrapf(err, "register %s", consts.SessionReapJobName)
	}
	return nil
}

func (s *Manager) Start() {
	log.Info("Cron 定时任务引擎启动", "jobs", len(s.engine.Entries()))
	s.engine.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Manager) Stop(ctx context.Context) {
	log.Info("Cron 定时任务引擎停止")
	select {
	case <-s.engine.Stop().Done():
	case <-ctx.Done():
		log.Warn("cron stop timed out")
	}
}
