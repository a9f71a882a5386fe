package services

import (
	"context"
	"fmt"
	"time"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/geoip"
	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/metrics"
	"github.com/vigilguard/vigil/internal/models"
)

// connectionProxyWindow is the activity window used as the fleet-wide
// concurrent-connection proxy.
const connectionProxyWindow = 10 * time.Second

// GeoFilter holds the optional geographic filtering policy. A deny-list
// match, or a configured allow-list that does not contain the resolved
// country, is treated as an attack. Resolution failures fail open.
type GeoFilter struct {
	Resolver geoip.Resolver
	Deny     []string
	Allow    []string
}

func (g GeoFilter) enabled() bool {
	return g.Resolver != nil && (len(g.Deny) > 0 || len(g.Allow) > 0)
}

func (g GeoFilter) rejects(country string) bool {
	for _, c := range g.Deny {
		if c == country {
			return true
		}
	}
	if len(g.Allow) == 0 {
		return false
	}
	for _, c := range g.Allow {
		if c == country {
			return false
		}
	}
	return true
}

// DDoSResult is the detector's verdict for one IP. Blocked marks an IP the
// reputation store already denies; no fresh detection ran for it.
type DDoSResult struct {
	IP            string        `json:"ip"`
	Attack        bool          `json:"attack"`
	Blocked       bool          `json:"blocked"`
	Reason        string        `json:"reason"`
	RPS           int64         `json:"rps"`
	BlockDuration time.Duration `json:"block_duration"`
}

// DDoSService detects volumetric attacks over short windows and hands
// verdicts to the escalation engine rather than blocking directly.
type DDoSService struct {
	cfg        config.DDoSConfig
	geo        GeoFilter
	events     *EventService
	lists      *IPListService
	alerts     *AlertService
	escalation *EscalationService
}

// NewDDoSService returns a DDoSService over the shared stores.
func NewDDoSService(cfg config.DDoSConfig, geo GeoFilter, events *EventService, lists *IPListService, alerts *AlertService, escalation *EscalationService) *DDoSService {
	return &DDoSService{cfg: cfg, geo: geo, events: events, lists: lists, alerts: alerts, escalation: escalation}
}

// Detect evaluates one IP. The reputation store is consulted first:
// whitelisted IPs are always Normal, and an IP it already denies is reported
// Blocked without running detection again, so a standing block is not
// re-escalated on every sweep. The geographic filter is checked before the
// rate, so its reason wins when both would fire.
func (s *DDoSService) Detect(ctx context.Context, ip string) (*DDoSResult, error) {
	res := &DDoSResult{IP: ip}

	if s.cfg.WindowSeconds < 1 {
		return nil, fmt.Errorf("%w: ddos window=%ds", ErrConfiguration, s.cfg.WindowSeconds)
	}

	whitelisted, err := s.lists.IsWhitelisted(ip)
	if err != nil {
		return s.failOpen(res, err), nil
	}
	if whitelisted {
		return res, nil
	}

	blocked, err := s.lists.IsBlockedOrBlacklisted(ip)
	if err != nil {
		return s.failOpen(res, err), nil
	}
	if blocked {
		res.Blocked = true
		return res, nil
	}

	if s.geo.enabled() {
		country, err := s.geo.Resolver.CountryOf(ctx, ip)
		if err != nil {
			// Best-effort dependency: fail open, no alert.
			logger.WithFields(map[string]interface{}{"ip": ip}).
				WithError(err).Debug("geoip lookup failed, skipping geographic filter")
		} else if s.geo.rejects(country) {
			res.Attack = true
			res.Reason = "geographic filter"
			return res, s.conclude(res, map[string]interface{}{"country": country, "filter": "geographic"})
		}
	}

	window := time.Duration(s.cfg.WindowSeconds) * time.Second
	count, err := s.events.CountByIP(ip, []models.EventType{models.EventTypeRateLimit, models.EventTypeDDoS}, window)
	if err != nil {
		return s.failOpen(res, err), nil
	}

	res.RPS = count / s.cfg.WindowSeconds
	if res.RPS >= s.cfg.ThresholdRPS {
		res.Attack = true
		res.Reason = fmt.Sprintf("request rate %d rps over %ds window (threshold %d)", res.RPS, s.cfg.WindowSeconds, s.cfg.ThresholdRPS)
		return res, s.conclude(res, map[string]interface{}{
			"rps":       res.RPS,
			"threshold": s.cfg.ThresholdRPS,
			"window":    s.cfg.WindowSeconds,
		})
	}

	return res, nil
}

// conclude records the ddos event and delegates to escalation.
func (s *DDoSService) conclude(res *DDoSResult, metadata map[string]interface{}) error {
	metrics.IncDDoSAttack()

	if err := s.events.AppendWithMetadata(&models.SecurityEvent{
		EventType: models.EventTypeDDoS,
		IP:        res.IP,
	}, metadata); err != nil {
		logger.WithFields(map[string]interface{}{"ip": res.IP}).
			WithError(err).Error("failed to record ddos event")
	}

	duration, err := s.escalation.Respond(res.IP, "ddos", res.Reason)
	if err != nil {
		return err
	}
	res.BlockDuration = duration
	return nil
}

// failOpen treats the IP as Normal when the store cannot be consulted, but
// loudly: error log, alert, counter.
func (s *DDoSService) failOpen(res *DDoSResult, cause error) *DDoSResult {
	logger.WithFields(map[string]interface{}{"ip": res.IP}).
		WithError(cause).Error("ddos detector failing open, store unavailable")
	_ = s.alerts.Send("ddos", SeverityWarning, "fail_open",
		fmt.Sprintf("skipping detection for %s: %v", res.IP, cause), nil)
	metrics.IncFailOpen()
	return res
}

// Sweep evaluates every IP active within the detection window and returns
// the attackers found. The context is checked between IPs so a timeout
// truncates the processed set with no partial-IP state. It also computes
// the fleet-wide concurrent-connection proxy and raises a systemic alert —
// not a block — when it exceeds the ceiling.
func (s *DDoSService) Sweep(ctx context.Context) ([]string, error) {
	ips, err := s.events.ActiveIPs(time.Duration(s.cfg.WindowSeconds) * time.Second)
	if err != nil {
		return nil, err
	}

	var attacked []string
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return attacked, err
		}
		res, err := s.Detect(ctx, ip)
		if err != nil {
			logger.WithFields(map[string]interface{}{"ip": ip}).
				WithError(err).Error("sweep detection failed")
			continue
		}
		if res.Attack {
			attacked = append(attacked, ip)
		}
	}

	if s.cfg.ConnectionCeiling > 0 {
		active, err := s.events.CountActiveIPs(connectionProxyWindow)
		if err != nil {
			logger.Log().WithError(err).Error("failed to compute active IP count")
		} else if active > s.cfg.ConnectionCeiling {
			metrics.IncSystemicOverload()
			_ = s.alerts.Send("ddos", SeverityCritical, "systemic_overload",
				fmt.Sprintf("%d distinct IPs active in the last %s (ceiling %d)", active, connectionProxyWindow, s.cfg.ConnectionCeiling),
				map[string]interface{}{"active_ips": active, "ceiling": s.cfg.ConnectionCeiling})
		}
	}

	return attacked, nil
}

// DDoSStats summarizes recent detector activity.
type DDoSStats struct {
	ThresholdRPS  int64 `json:"threshold_rps"`
	WindowSeconds int64 `json:"window_seconds"`
	AttacksHour   int64 `json:"attacks_last_hour"`
	AttacksDay    int64 `json:"attacks_last_day"`
	BlockedIPs    int64 `json:"blocked_ips"`
}

// Stats reports detector configuration and recent verdict counts.
func (s *DDoSService) Stats() (*DDoSStats, error) {
	hourly, err := s.events.CountsByType(time.Hour)
	if err != nil {
		return nil, err
	}
	daily, err := s.events.CountsByType(24 * time.Hour)
	if err != nil {
		return nil, err
	}
	blocked, err := s.lists.CountBlocked()
	if err != nil {
		return nil, err
	}
	return &DDoSStats{
		ThresholdRPS:  s.cfg.ThresholdRPS,
		WindowSeconds: s.cfg.WindowSeconds,
		AttacksHour:   hourly[models.EventTypeDDoS],
		AttacksDay:    daily[models.EventTypeDDoS],
		BlockedIPs:    blocked,
	}, nil
}
