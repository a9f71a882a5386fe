package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/metrics"
	"github.com/vigilguard/vigil/internal/models"
)

const (
	endpointDiversityWindow = 5 * time.Minute
	patternWindow           = time.Hour
)

// AbuseReason names one fired sub-check with the observed value and the
// threshold it crossed. Reasons are persisted in the abuse event metadata
// for forensics.
type AbuseReason struct {
	Name      string  `json:"name"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
}

// AbuseReport is the union verdict of the three sub-check families for one
// IP. Blocked marks an IP the reputation store already denies; no fresh
// analysis ran for it.
type AbuseReport struct {
	IP            string        `json:"ip"`
	Abusive       bool          `json:"abusive"`
	Blocked       bool          `json:"blocked"`
	Reasons       []AbuseReason `json:"reasons,omitempty"`
	BlockDuration time.Duration `json:"block_duration,omitempty"`
}

// AbuseService runs pattern, anomaly and behavioral checks over the event
// history, ORs them into one verdict, and hands abusive IPs to escalation.
type AbuseService struct {
	cfg        config.AbuseConfig
	events     *EventService
	lists      *IPListService
	alerts     *AlertService
	escalation *EscalationService
}

// NewAbuseService returns an AbuseService over the shared stores.
func NewAbuseService(cfg config.AbuseConfig, events *EventService, lists *IPListService, alerts *AlertService, escalation *EscalationService) *AbuseService {
	return &AbuseService{cfg: cfg, events: events, lists: lists, alerts: alerts, escalation: escalation}
}

// Analyze evaluates one IP. The reputation store is consulted first:
// whitelisted IPs are never abusive, and an IP it already denies is reported
// Blocked without re-running the checks. The sub-check windows are longer
// than the sweep interval, so without that short-circuit one offense would
// re-fire every pass and climb the escalation tiers on its own. On a fresh
// verdict the reasons are recorded in an abuse event and escalation runs.
func (s *AbuseService) Analyze(ctx context.Context, ip string) (*AbuseReport, error) {
	report := &AbuseReport{IP: ip}

	whitelisted, err := s.lists.IsWhitelisted(ip)
	if err != nil {
		return s.failOpen(report, err), nil
	}
	if whitelisted {
		return report, nil
	}

	blocked, err := s.lists.IsBlockedOrBlacklisted(ip)
	if err != nil {
		return s.failOpen(report, err), nil
	}
	if blocked {
		report.Blocked = true
		return report, nil
	}

	reasons, err := s.runChecks(ip)
	if err != nil {
		return s.failOpen(report, err), nil
	}
	if len(reasons) == 0 {
		return report, nil
	}

	report.Abusive = true
	report.Reasons = reasons
	metrics.IncAbuseDetection()

	names := make([]string, len(reasons))
	for i, r := range reasons {
		names[i] = r.Name
	}

	if err := s.events.AppendWithMetadata(&models.SecurityEvent{
		EventType: models.EventTypeAbuse,
		IP:        ip,
	}, map[string]interface{}{"reasons": reasons}); err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).
			WithError(err).Error("failed to record abuse event")
	}

	duration, err := s.escalation.Respond(ip, "abuse", strings.Join(names, ", "))
	if err != nil {
		return report, err
	}
	report.BlockDuration = duration

	return report, nil
}

// Inspect runs the sub-checks for one IP without recording a verdict or
// escalating. Used by the read-only CLI check.
func (s *AbuseService) Inspect(ip string) (*AbuseReport, error) {
	report := &AbuseReport{IP: ip}

	whitelisted, err := s.lists.IsWhitelisted(ip)
	if err != nil {
		return nil, err
	}
	if whitelisted {
		return report, nil
	}

	reasons, err := s.runChecks(ip)
	if err != nil {
		return nil, err
	}
	report.Abusive = len(reasons) > 0
	report.Reasons = reasons
	return report, nil
}

// runChecks executes the three sub-check families and collects every fired
// reason.
func (s *AbuseService) runChecks(ip string) ([]AbuseReason, error) {
	var reasons []AbuseReason

	// Pattern: rapid requests.
	rapid, err := s.events.CountByIP(ip, nil, time.Duration(s.cfg.RapidWindowSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	if rapid >= s.cfg.RapidCount {
		reasons = append(reasons, AbuseReason{
			Name:      "rapid_requests",
			Observed:  float64(rapid),
			Threshold: float64(s.cfg.RapidCount),
		})
	}

	// Pattern: error rate and excessive volume share the hourly total.
	total, err := s.events.CountByIP(ip, nil, patternWindow)
	if err != nil {
		return nil, err
	}
	if total > 0 {
		errorCount, err := s.events.CountErrorsByIP(ip, patternWindow)
		if err != nil {
			return nil, err
		}
		if rate := float64(errorCount) / float64(total); rate >= s.cfg.ErrorRate {
			reasons = append(reasons, AbuseReason{
				Name:      "error_rate",
				Observed:  rate,
				Threshold: s.cfg.ErrorRate,
			})
		}
	}
	if total >= s.cfg.ExcessiveCount {
		reasons = append(reasons, AbuseReason{
			Name:      "excessive_requests",
			Observed:  float64(total),
			Threshold: float64(s.cfg.ExcessiveCount),
		})
	}

	// Anomaly vs. the historical baseline.
	if reason, err := s.anomalyCheck(ip); err != nil {
		return nil, err
	} else if reason != nil {
		reasons = append(reasons, *reason)
	}

	// Behavioral diversity.
	endpoints, err := s.events.DistinctEndpoints(ip, endpointDiversityWindow)
	if err != nil {
		return nil, err
	}
	if endpoints > s.cfg.EndpointDiversity {
		reasons = append(reasons, AbuseReason{
			Name:      "high_endpoint_diversity",
			Observed:  float64(endpoints),
			Threshold: float64(s.cfg.EndpointDiversity),
		})
	}

	agents, err := s.events.DistinctUserAgents(ip, patternWindow)
	if err != nil {
		return nil, err
	}
	if agents > s.cfg.UADiversity {
		reasons = append(reasons, AbuseReason{
			Name:      "high_ua_diversity",
			Observed:  float64(agents),
			Threshold: float64(s.cfg.UADiversity),
		})
	}

	return reasons, nil
}

// anomalyCheck compares the current hour's activity to the mean hourly
// count over the trailing baseline period, which ends at the top of the
// current hour so fresh activity cannot inflate its own baseline. A zero
// baseline means insufficient data and the check is skipped, not failed.
func (s *AbuseService) anomalyCheck(ip string) (*AbuseReason, error) {
	hourStart := time.Now().Truncate(time.Hour)
	baselineStart := hourStart.Add(-time.Duration(s.cfg.BaselineDays) * 24 * time.Hour)

	baselineTotal, err := s.events.CountBetween(ip, nil, baselineStart, hourStart)
	if err != nil {
		return nil, err
	}
	baseline := float64(baselineTotal) / float64(s.cfg.BaselineDays*24)
	if baseline <= 0 {
		return nil, nil
	}

	current, err := s.events.CountBetween(ip, nil, hourStart, time.Now())
	if err != nil {
		return nil, err
	}
	if float64(current) >= s.cfg.AnomalyMultiplier*baseline {
		return &AbuseReason{
			Name:      "traffic_anomaly",
			Observed:  float64(current),
			Threshold: s.cfg.AnomalyMultiplier * baseline,
		}, nil
	}
	return nil, nil
}

// failOpen reports the IP as not abusive when the store cannot be
// consulted, but loudly: error log, alert, counter.
func (s *AbuseService) failOpen(report *AbuseReport, cause error) *AbuseReport {
	logger.WithFields(map[string]interface{}{"ip": report.IP}).
		WithError(cause).Error("abuse detector failing open, store unavailable")
	_ = s.alerts.Send("abuse", SeverityWarning, "fail_open",
		fmt.Sprintf("skipping analysis for %s: %v", report.IP, cause), nil)
	metrics.IncFailOpen()
	return report
}

// AnalyzeAll evaluates every IP with activity in the last hour and returns
// the abusive ones. The context is checked between IPs so a timeout
// truncates the processed set.
func (s *AbuseService) AnalyzeAll(ctx context.Context) ([]AbuseReport, error) {
	ips, err := s.events.ActiveIPs(time.Hour)
	if err != nil {
		return nil, err
	}

	var abusive []AbuseReport
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return abusive, err
		}
		report, err := s.Analyze(ctx, ip)
		if err != nil {
			logger.WithFields(map[string]interface{}{"ip": ip}).
				WithError(err).Error("batch analysis failed")
			continue
		}
		if report.Abusive {
			abusive = append(abusive, *report)
		}
	}
	return abusive, nil
}

// AbuseStats summarizes recent detector activity.
type AbuseStats struct {
	DetectionsHour int64 `json:"detections_last_hour"`
	DetectionsDay  int64 `json:"detections_last_day"`
	ActiveIPsHour  int64 `json:"active_ips_last_hour"`
}

// Stats reports recent verdict counts.
func (s *AbuseService) Stats() (*AbuseStats, error) {
	hourly, err := s.events.CountsByType(time.Hour)
	if err != nil {
		return nil, err
	}
	daily, err := s.events.CountsByType(24 * time.Hour)
	if err != nil {
		return nil, err
	}
	active, err := s.events.CountActiveIPs(time.Hour)
	if err != nil {
		return nil, err
	}
	return &AbuseStats{
		DetectionsHour: hourly[models.EventTypeAbuse],
		DetectionsDay:  daily[models.EventTypeAbuse],
		ActiveIPsHour:  active,
	}, nil
}

// Patterns returns the configured detection thresholds.
func (s *AbuseService) Patterns() config.AbuseConfig {
	return s.cfg
}
