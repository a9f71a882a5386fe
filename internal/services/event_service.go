package services

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/models"
)

var ErrInvalidEvent = errors.New("invalid security event")

// EventService is the adapter over the append-only security event log. All
// sliding windows are expressed as time-ranged, parameterized queries; the
// windows age out naturally so no counter reset is ever needed.
type EventService struct {
	db *gorm.DB
}

// NewEventService returns an EventService using the provided DB.
func NewEventService(db *gorm.DB) *EventService {
	return &EventService{db: db}
}

// Append stores one event. CreatedAt defaults to now.
func (s *EventService) Append(ev *models.SecurityEvent) error {
	if ev == nil || ev.IP == "" || ev.EventType == "" {
		return ErrInvalidEvent
	}
	if ev.Identifier == "" {
		ev.Identifier = ev.IP
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return s.db.Create(ev).Error
}

// AppendWithMetadata marshals metadata to JSON and stores the event.
func (s *EventService) AppendWithMetadata(ev *models.SecurityEvent, metadata map[string]interface{}) error {
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		ev.Metadata = string(b)
	}
	return s.Append(ev)
}

// CountByIdentifier counts events for a rate-limit identifier within the
// trailing window.
func (s *EventService) CountByIdentifier(identifier string, types []models.EventType, window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("identifier = ? AND event_type IN ? AND created_at >= ?", identifier, types, time.Now().Add(-window)).
		Count(&count).Error
	return count, err
}

// CountByIP counts events for an IP within the trailing window.
func (s *EventService) CountByIP(ip string, types []models.EventType, window time.Duration) (int64, error) {
	return s.CountBetween(ip, types, time.Now().Add(-window), time.Now())
}

// CountBetween counts events for an IP in [from, to). A nil types slice
// matches all event types.
func (s *EventService) CountBetween(ip string, types []models.EventType, from, to time.Time) (int64, error) {
	var count int64
	q := s.db.Model(&models.SecurityEvent{}).
		Where("ip = ? AND created_at >= ? AND created_at < ?", ip, from, to)
	if len(types) > 0 {
		q = q.Where("event_type IN ?", types)
	}
	err := q.Count(&count).Error
	return count, err
}

// CountErrorsByIP counts events carrying a 4xx/5xx status for an IP within
// the trailing window.
func (s *EventService) CountErrorsByIP(ip string, window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("ip = ? AND status_code >= 400 AND created_at >= ?", ip, time.Now().Add(-window)).
		Count(&count).Error
	return count, err
}

// DistinctEndpoints counts distinct non-empty endpoints hit by an IP within
// the trailing window.
func (s *EventService) DistinctEndpoints(ip string, window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("ip = ? AND endpoint <> '' AND created_at >= ?", ip, time.Now().Add(-window)).
		Distinct("endpoint").
		Count(&count).Error
	return count, err
}

// DistinctUserAgents counts distinct non-empty user agents seen for an IP
// within the trailing window.
func (s *EventService) DistinctUserAgents(ip string, window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("ip = ? AND user_agent <> '' AND created_at >= ?", ip, time.Now().Add(-window)).
		Distinct("user_agent").
		Count(&count).Error
	return count, err
}

// ActiveIPs returns the distinct IPs with any activity within the trailing
// window.
func (s *EventService) ActiveIPs(window time.Duration) ([]string, error) {
	var ips []string
	err := s.db.Model(&models.SecurityEvent{}).
		Where("created_at >= ?", time.Now().Add(-window)).
		Distinct().
		Pluck("ip", &ips).Error
	return ips, err
}

// CountActiveIPs counts distinct IPs active within the trailing window. Used
// as the fleet-wide concurrent-connection proxy.
func (s *EventService) CountActiveIPs(window time.Duration) (int64, error) {
	var count int64
	err := s.db.Model(&models.SecurityEvent{}).
		Where("created_at >= ?", time.Now().Add(-window)).
		Distinct("ip").
		Count(&count).Error
	return count, err
}

// DeleteByIdentifier removes the rate_limit history for an identifier. This
// backs the operator-facing reset, not retention.
func (s *EventService) DeleteByIdentifier(identifier string) error {
	return s.db.
		Where("identifier = ? AND event_type = ?", identifier, models.EventTypeRateLimit).
		Delete(&models.SecurityEvent{}).Error
}

// Recent returns the newest events, optionally filtered by IP and type.
func (s *EventService) Recent(ip string, eventType models.EventType, limit int) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent
	q := s.db.Order("created_at desc")
	if ip != "" {
		q = q.Where("ip = ?", ip)
	}
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

// CountsByType aggregates event counts per type within the trailing window.
func (s *EventService) CountsByType(window time.Duration) (map[models.EventType]int64, error) {
	type row struct {
		EventType models.EventType
		N         int64
	}
	var rows []row
	err := s.db.Model(&models.SecurityEvent{}).
		Select("event_type, count(*) as n").
		Where("created_at >= ?", time.Now().Add(-window)).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.EventType]int64, len(rows))
	for _, r := range rows {
		counts[r.EventType] = r.N
	}
	return counts, nil
}
