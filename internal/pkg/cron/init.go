package cron

import log "log/slog"

// InitCron 注册在线记录清理与会话回收任务并启动调度
func InitCron(mgr *Manager) error {
	if err := mgr.RegisterJobs(); err != nil {
		return err
	}
	log.Info("cron jobs registered",
		"presence_sweep", mgr.cfg.PresenceSweepSpec,
		"session_reap", mgr.cfg.SessionReapSpec)
	mgr.Start()
	return nil
}
