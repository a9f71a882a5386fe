package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/models"
)

// Severity is the canonical alert severity. Legacy level strings from other
// code paths are normalized at this boundary via NormalizeSeverity.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// NormalizeSeverity maps loose level strings onto the canonical enum.
// Unknown values are treated as WARNING so they are never silently dropped.
func NormalizeSeverity(level string) Severity {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "INFO", "NOTICE", "DEBUG":
		return SeverityInfo
	case "WARN", "WARNING":
		return SeverityWarning
	case "ERROR", "CRITICAL", "FATAL":
		return SeverityCritical
	}
	return SeverityWarning
}

func (s Severity) notificationType() models.NotificationType {
	switch s {
	case SeverityCritical:
		return models.NotificationTypeError
	case SeverityWarning:
		return models.NotificationTypeWarning
	}
	return models.NotificationTypeInfo
}

// AlertService records operator notifications and dispatches them to the
// configured shoutrrr destinations. Dispatch failures are logged, never
// fatal: a lost notification must not undo or block a security decision.
type AlertService struct {
	DB          *gorm.DB
	URLs        []string
	MinSeverity Severity
}

// NewAlertService returns an AlertService writing notifications to db and
// fanning out to the given shoutrrr URLs.
func NewAlertService(db *gorm.DB, urls []string, minSeverity string) *AlertService {
	return &AlertService{DB: db, URLs: urls, MinSeverity: NormalizeSeverity(minSeverity)}
}

// Send records and dispatches one alert. The returned error reflects only
// the notification row write; external delivery is best-effort.
func (s *AlertService) Send(component string, severity Severity, alertType, message string, metadata map[string]interface{}) error {
	if severityRank[severity] < severityRank[s.MinSeverity] {
		return nil
	}

	title := fmt.Sprintf("[%s] %s: %s", severity, component, alertType)

	body := message
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			body = fmt.Sprintf("%s\n%s", message, string(b))
		}
	}

	notification := &models.Notification{
		Type:      severity.notificationType(),
		Component: component,
		Title:     title,
		Message:   body,
	}
	if err := s.DB.Create(notification).Error; err != nil {
		logger.WithFields(map[string]interface{}{"component": component, "type": alertType}).
			WithError(err).Error("failed to record notification")
		return err
	}

	for _, url := range s.URLs {
		go func(url string) {
			if err := shoutrrr.Send(url, fmt.Sprintf("%s\n\n%s", title, body)); err != nil {
				logger.WithFields(map[string]interface{}{"component": component}).
					WithError(err).Error("failed to dispatch alert")
			}
		}(url)
	}

	return nil
}

// List returns notifications, newest first.
func (s *AlertService) List(unreadOnly bool, limit int) ([]models.Notification, error) {
	var notifications []models.Notification
	q := s.DB.Order("created_at desc")
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&notifications).Error
	return notifications, err
}

// MarkAsRead marks one notification as read.
func (s *AlertService) MarkAsRead(id string) error {
	return s.DB.Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error
}

// MarkAllAsRead marks every unread notification as read.
func (s *AlertService) MarkAllAsRead() error {
	return s.DB.Model(&models.Notification{}).Where("read = ?", false).Update("read", true).Error
}
