package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/metrics"
	"github.com/vigilguard/vigil/internal/models"
)

// violationEventTypes are the detector verdicts that count toward the
// escalation history.
var violationEventTypes = []models.EventType{models.EventTypeAbuse, models.EventTypeDDoS}

// EscalationService converts a detected violation into a time-bounded block
// whose duration grows with the IP's recent violation count.
type EscalationService struct {
	cfg    config.EscalationConfig
	events *EventService
	lists  *IPListService
	alerts *AlertService
}

// NewEscalationService returns an EscalationService over the shared stores.
func NewEscalationService(cfg config.EscalationConfig, events *EventService, lists *IPListService, alerts *AlertService) *EscalationService {
	return &EscalationService{cfg: cfg, events: events, lists: lists, alerts: alerts}
}

// tier maps a 24h violation count (including the violation being responded
// to, which the detector has already recorded) onto a block duration.
func (s *EscalationService) tier(violations int64) time.Duration {
	switch {
	case violations >= 3:
		return time.Duration(s.cfg.ChronicBlockMinutes) * time.Minute
	case violations >= 2:
		return time.Duration(s.cfg.RepeatBlockMinutes) * time.Minute
	default:
		return time.Duration(s.cfg.FirstBlockMinutes) * time.Minute
	}
}

// Respond applies the escalation for one violation: temp_block upsert, block
// event, operator alert, auto-block counter. The block is safety-critical
// and is applied first; a failed alert never rolls it back. The history
// read and block write are deliberately not atomic — a race between two
// concurrent violations may pick a lower tier, but the next violation's
// recount corrects it.
func (s *EscalationService) Respond(ip, violationType, reason string) (time.Duration, error) {
	history := time.Duration(s.cfg.HistoryHours) * time.Hour
	violations, err := s.events.CountByIP(ip, violationEventTypes, history)
	if err != nil {
		// Without history the violation still gets the base tier. Failing
		// to block here would turn a store hiccup into an open door.
		logger.WithFields(map[string]interface{}{"ip": ip}).
			WithError(err).Error("violation history unavailable, using base tier")
		violations = 1
	}

	duration := s.tier(violations)
	expiresAt := time.Now().Add(duration)

	if err := s.lists.Upsert(ip, models.ListTypeTempBlock, reason, &expiresAt); err != nil {
		return 0, fmt.Errorf("apply temp block: %w", err)
	}

	if err := s.events.AppendWithMetadata(&models.SecurityEvent{
		EventType: models.EventTypeBlock,
		IP:        ip,
	}, map[string]interface{}{
		"violation_type":   violationType,
		"reason":           reason,
		"duration_minutes": int(duration.Minutes()),
		"violations_24h":   violations,
	}); err != nil {
		// The block is already in place; the missing audit row is logged.
		logger.WithFields(map[string]interface{}{"ip": ip}).
			WithError(err).Error("failed to record block event")
	}

	severity := SeverityWarning
	if strings.EqualFold(violationType, "ddos") {
		severity = SeverityCritical
	}
	_ = s.alerts.Send("escalation", severity, "auto_block",
		fmt.Sprintf("blocked %s for %s: %s", ip, duration, reason),
		map[string]interface{}{
			"ip":             ip,
			"violation_type": violationType,
			"duration":       duration.String(),
			"violations_24h": violations,
		})

	metrics.IncAutoBlock(violationType)

	logger.WithFields(map[string]interface{}{
		"ip":             ip,
		"violation_type": violationType,
		"duration":       duration.String(),
		"violations_24h": violations,
	}).Warn("applied automatic block")

	return duration, nil
}

// Blacklist permanently blocks an IP on operator action. It outranks any
// temp_block and never expires.
func (s *EscalationService) Blacklist(ip, reason string) error {
	if err := s.lists.Upsert(ip, models.ListTypeBlacklist, reason, nil); err != nil {
		return err
	}
	if err := s.events.AppendWithMetadata(&models.SecurityEvent{
		EventType: models.EventTypeBlock,
		IP:        ip,
	}, map[string]interface{}{"violation_type": "manual", "reason": reason}); err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).
			WithError(err).Error("failed to record block event")
	}
	_ = s.alerts.Send("escalation", SeverityWarning, "manual_block",
		fmt.Sprintf("blacklisted %s: %s", ip, reason),
		map[string]interface{}{"ip": ip})
	return nil
}

// Unblock clears blacklist and temp_block entries for an IP on operator
// action.
func (s *EscalationService) Unblock(ip string) error {
	if err := s.lists.ClearBlocks(ip); err != nil {
		return err
	}
	if err := s.events.Append(&models.SecurityEvent{
		EventType: models.EventTypeUnblock,
		IP:        ip,
	}); err != nil {
		logger.WithFields(map[string]interface{}{"ip": ip}).
			WithError(err).Error("failed to record unblock event")
	}
	_ = s.alerts.Send("escalation", SeverityInfo, "unblock",
		fmt.Sprintf("unblocked %s", ip), map[string]interface{}{"ip": ip})
	return nil
}
