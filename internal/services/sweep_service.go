package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/logger"
)

const (
	ddosSweepTimeout  = 50 * time.Second
	abuseSweepTimeout = 4 * time.Minute
)

// SweepService is the periodic scheduler: DDoS sweeps, batch abuse
// analysis and expired-block purging. Each job runs under a deadline; the
// detectors check it between IPs so an overrun truncates the batch instead
// of piling up.
type SweepService struct {
	cfg   config.SweepConfig
	ddos  *DDoSService
	abuse *AbuseService
	lists *IPListService
	cron  *cron.Cron
}

// NewSweepService returns a SweepService driving the given detectors.
func NewSweepService(cfg config.SweepConfig, ddos *DDoSService, abuse *AbuseService, lists *IPListService) *SweepService {
	return &SweepService{cfg: cfg, ddos: ddos, abuse: abuse, lists: lists, cron: cron.New()}
}

// Start registers and starts the periodic jobs.
func (s *SweepService) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.DDoSSchedule, s.runDDoSSweep); err != nil {
		return fmt.Errorf("schedule ddos sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.AbuseSchedule, s.runAbuseSweep); err != nil {
		return fmt.Errorf("schedule abuse sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.PurgeSchedule, s.runPurge); err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}
	s.cron.Start()
	logger.WithFields(map[string]interface{}{
		"ddos":  s.cfg.DDoSSchedule,
		"abuse": s.cfg.AbuseSchedule,
		"purge": s.cfg.PurgeSchedule,
	}).Info("periodic sweeps started")
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *SweepService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *SweepService) runDDoSSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), ddosSweepTimeout)
	defer cancel()

	attacked, err := s.ddos.Sweep(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Log().WithError(err).Error("ddos sweep failed")
		return
	}
	if len(attacked) > 0 {
		logger.WithFields(map[string]interface{}{"ips": attacked}).Warn("ddos sweep found attackers")
	}
}

func (s *SweepService) runAbuseSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), abuseSweepTimeout)
	defer cancel()

	abusive, err := s.abuse.AnalyzeAll(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Log().WithError(err).Error("abuse sweep failed")
		return
	}
	if len(abusive) > 0 {
		logger.WithFields(map[string]interface{}{"count": len(abusive)}).Warn("abuse sweep found abusive IPs")
	}
}

func (s *SweepService) runPurge() {
	purged, err := s.lists.PurgeExpired()
	if err != nil {
		logger.Log().WithError(err).Error("expired block purge failed")
		return
	}
	if purged > 0 {
		logger.WithFields(map[string]interface{}{"purged": purged}).Info("purged expired temp blocks")
	}
}
