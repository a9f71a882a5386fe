package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/metrics"
	"github.com/vigilguard/vigil/internal/models"
)

// ErrConfiguration marks an invalid window or threshold. It is fatal to the
// affected call only, never a security verdict and never a process crash.
var ErrConfiguration = errors.New("configuration error")

// AdmitResult is the rate limiter's verdict for one request.
type AdmitResult struct {
	Allowed    bool   `json:"allowed"`
	Burst      bool   `json:"burst"`
	Blocked    bool   `json:"blocked"`
	Bypassed   bool   `json:"bypassed"`
	FailOpen   bool   `json:"fail_open"`
	Identifier string `json:"identifier"`
	Count      int64  `json:"count"`
	Limit      int    `json:"limit"`
}

// RateLimitService performs sliding-window admission control per identifier
// (API key, IP+endpoint, or bare IP, in that precedence). The default
// backend counts events in the shared store so limits hold across
// instances; the memory backend trades that for a per-process token bucket.
type RateLimitService struct {
	cfg    config.RateLimitConfig
	events *EventService
	lists  *IPListService
	alerts *AlertService

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitService returns a RateLimitService over the shared stores.
func NewRateLimitService(cfg config.RateLimitConfig, events *EventService, lists *IPListService, alerts *AlertService) *RateLimitService {
	return &RateLimitService{
		cfg:      cfg,
		events:   events,
		lists:    lists,
		alerts:   alerts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// resolveIdentifier picks the rate-limit key and its configured limit.
// Precedence: api key, then IP+endpoint, then bare IP.
func (s *RateLimitService) resolveIdentifier(ip, endpoint, apiKey string) (string, int) {
	if apiKey != "" {
		return "key:" + apiKey, s.cfg.APIKeyLimit
	}
	if endpoint != "" {
		limit := s.cfg.Limit
		if override, ok := s.cfg.EndpointLimits[endpoint]; ok {
			limit = override
		}
		return ip + "|" + endpoint, limit
	}
	return ip, s.cfg.Limit
}

// Admit evaluates one request. Whitelisted IPs bypass limiting; blacklisted
// or temp-blocked IPs are denied before any counting. A store failure fails
// open but is logged and alerted.
func (s *RateLimitService) Admit(ip, endpoint, apiKey string) (*AdmitResult, error) {
	identifier, limit := s.resolveIdentifier(ip, endpoint, apiKey)
	res := &AdmitResult{Identifier: identifier, Limit: limit}

	if s.cfg.WindowSeconds <= 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: window=%ds limit=%d", ErrConfiguration, s.cfg.WindowSeconds, limit)
	}

	metrics.IncRequestEvaluated()

	whitelisted, err := s.lists.IsWhitelisted(ip)
	if err != nil {
		return s.failOpen(res, err), nil
	}
	if whitelisted {
		res.Allowed = true
		res.Bypassed = true
		return res, nil
	}

	blocked, err := s.lists.IsBlockedOrBlacklisted(ip)
	if err != nil {
		return s.failOpen(res, err), nil
	}
	if blocked {
		res.Blocked = true
		metrics.IncRequestLimited()
		return res, nil
	}

	window := time.Duration(s.cfg.WindowSeconds) * time.Second

	if s.cfg.Backend == "memory" {
		res.Allowed, res.Burst = s.allowInMemory(identifier, limit, window)
		if !res.Allowed {
			metrics.IncRequestLimited()
		}
		return res, nil
	}

	count, err := s.events.CountByIdentifier(identifier, []models.EventType{models.EventTypeRateLimit}, window)
	if err != nil {
		return s.failOpen(res, err), nil
	}
	res.Count = count

	switch {
	case count >= int64(limit+s.cfg.Burst):
		metrics.IncRequestLimited()
		if err := s.events.AppendWithMetadata(&models.SecurityEvent{
			EventType:  models.EventTypeRateLimit,
			IP:         ip,
			Identifier: identifier,
			Endpoint:   endpoint,
		}, map[string]interface{}{"exceeded": true, "count": count, "limit": limit}); err != nil {
			logger.WithFields(map[string]interface{}{"identifier": identifier}).
				WithError(err).Error("failed to record rate limit event")
		}
	case count >= int64(limit):
		res.Allowed = true
		res.Burst = true
	default:
		res.Allowed = true
	}

	return res, nil
}

// failOpen allows the request when the store cannot be consulted. The gap is
// made loud: error log, alert, counter.
func (s *RateLimitService) failOpen(res *AdmitResult, cause error) *AdmitResult {
	logger.WithFields(map[string]interface{}{"identifier": res.Identifier}).
		WithError(cause).Error("rate limiter failing open, store unavailable")
	_ = s.alerts.Send("rate_limiter", SeverityWarning, "fail_open",
		fmt.Sprintf("admitting %s without evaluation: %v", res.Identifier, cause), nil)
	metrics.IncFailOpen()
	res.Allowed = true
	res.FailOpen = true
	return res
}

func (s *RateLimitService) allowInMemory(identifier string, limit int, window time.Duration) (allowed, burst bool) {
	s.mu.Lock()
	lim, ok := s.limiters[identifier]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit+s.cfg.Burst)
		s.limiters[identifier] = lim
	}
	s.mu.Unlock()

	if !lim.Allow() {
		return false, false
	}
	return true, lim.Tokens() < float64(s.cfg.Burst)
}

// Record appends one rate_limit event for the evaluated request, regardless
// of verdict. The window ages out via the time-ranged count; there is no
// separate reset.
func (s *RateLimitService) Record(ip, endpoint, apiKey string, statusCode int, userAgent string) error {
	identifier, _ := s.resolveIdentifier(ip, endpoint, apiKey)
	return s.events.Append(&models.SecurityEvent{
		EventType:  models.EventTypeRateLimit,
		IP:         ip,
		Identifier: identifier,
		Endpoint:   endpoint,
		UserAgent:  userAgent,
		StatusCode: statusCode,
	})
}

// RateLimitStats describes the current window for an identifier.
type RateLimitStats struct {
	Identifier    string `json:"identifier"`
	Limit         int    `json:"limit"`
	Burst         int    `json:"burst"`
	WindowSeconds int    `json:"window_seconds"`
	Count         int64  `json:"count"`
	Remaining     int64  `json:"remaining"`
}

// Stats reports the current window usage for an IP or IP+endpoint.
func (s *RateLimitService) Stats(ip, endpoint string) (*RateLimitStats, error) {
	identifier, limit := s.resolveIdentifier(ip, endpoint, "")
	window := time.Duration(s.cfg.WindowSeconds) * time.Second
	count, err := s.events.CountByIdentifier(identifier, []models.EventType{models.EventTypeRateLimit}, window)
	if err != nil {
		return nil, err
	}
	remaining := int64(limit+s.cfg.Burst) - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitStats{
		Identifier:    identifier,
		Limit:         limit,
		Burst:         s.cfg.Burst,
		WindowSeconds: s.cfg.WindowSeconds,
		Count:         count,
		Remaining:     remaining,
	}, nil
}

// Reset clears the rate_limit history for an IP or IP+endpoint.
func (s *RateLimitService) Reset(ip, endpoint string) error {
	identifier, _ := s.resolveIdentifier(ip, endpoint, "")
	s.mu.Lock()
	delete(s.limiters, identifier)
	s.mu.Unlock()
	return s.events.DeleteByIdentifier(identifier)
}
