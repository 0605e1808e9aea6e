package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Expirer 过期处理
type Expirer interface {
	ExpireOverdue(ctx context.Context, actx types.ActionContext) (int, error)
}

// Verifier 审计链校验
type Verifier interface {
	VerifyChain(ctx context.Context, fromSequence int64) (*audit.Verification, error)
}

// Scheduler 定时任务调度器
// 定期使超时的工作流过期，并校验审计链完整性
type Scheduler struct {
	cfg      config.SchedulerConfig
	expirer  Expirer
	verifier Verifier
	clock    types.Clock
	logger   *logrus.Logger
	cron     *cron.Cron
}

// New 创建调度器
func New(cfg config.SchedulerConfig, expirer Expirer, verifier Verifier, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	location := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
		}
		location = loc
	}
	for _, expr := range []string{cfg.ExpireCron, cfg.VerifyCron} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
	}

	cronLogger := cron.VerbosePrintfLogger(logger.WithField("module", "scheduler"))
	return &Scheduler{
		cfg:      cfg,
		expirer:  expirer,
		verifier: verifier,
		clock:    types.SystemClock{},
		logger:   logger,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
	}, nil
}

// Start 注册并启动定时任务
func (s *Scheduler) Start() error {
	if s.cfg.ExpireCron != "" && s.expirer != nil {
		if _, err := s.cron.AddFunc(s.cfg.ExpireCron, s.RunExpire); err != nil {
			return fmt.Errorf("failed to add expire job: %w", err)
		}
	}
	if s.cfg.VerifyCron != "" && s.verifier != nil {
		if _, err := s.cron.AddFunc(s.cfg.VerifyCron, s.RunVerify); err != nil {
			return fmt.Errorf("failed to add verify job: %w", err)
		}
	}
	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
	return nil
}

// Stop 停止调度器，等待运行中的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunExpire 执行一次过期处理
func (s *Scheduler) RunExpire() {
	ctx := context.Background()
	expired, err := s.expirer.ExpireOverdue(ctx, types.System(s.clock.Now()))
	if err != nil {
		s.logger.WithError(err).Error("expire job failed")
		return
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("overdue workflows expired")
	}
}

// RunVerify 执行一次审计链校验
func (s *Scheduler) RunVerify() {
	result, err := s.verifier.VerifyChain(context.Background(), 0)
	if err != nil {
		s.logger.WithError(err).Error("audit chain verification failed")
		return
	}
	fields := logrus.Fields{"checked": result.Checked, "findings": len(result.Findings)}
	if !result.Intact() {
		s.logger.WithFields(fields).Error("audit chain integrity compromised")
		return
	}
	s.logger.WithFields(fields).Info("audit chain verified")
}
