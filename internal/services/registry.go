package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/geoip"
)

// Registry wires every service over one shared DB handle. Both the CLI and
// the server build their dependencies through it so the wiring lives in one
// place.
type Registry struct {
	Events     *EventService
	Lists      *IPListService
	Alerts     *AlertService
	Escalation *EscalationService
	RateLimit  *RateLimitService
	DDoS       *DDoSService
	Abuse      *AbuseService
	Sweep      *SweepService
}

// NewRegistry constructs the full service graph from the injected config.
func NewRegistry(cfg config.Config, db *gorm.DB) *Registry {
	events := NewEventService(db)
	lists := NewIPListService(db)
	alerts := NewAlertService(db, cfg.AlertURLs, cfg.AlertMinSeverity)
	escalation := NewEscalationService(cfg.Escalation, events, lists, alerts)
	rateLimit := NewRateLimitService(cfg.RateLimit, events, lists, alerts)

	var resolver geoip.Resolver
	if cfg.GeoLookupURL != "" {
		resolver = geoip.NewHTTPResolver(cfg.GeoLookupURL, time.Duration(cfg.GeoTimeoutSecs)*time.Second)
	}
	geo := GeoFilter{Resolver: resolver, Deny: cfg.GeoDenyList, Allow: cfg.GeoAllowList}

	ddos := NewDDoSService(cfg.DDoS, geo, events, lists, alerts, escalation)
	abuse := NewAbuseService(cfg.Abuse, events, lists, alerts, escalation)
	sweep := NewSweepService(cfg.Sweep, ddos, abuse, lists)

	return &Registry{
		Events:     events,
		Lists:      lists,
		Alerts:     alerts,
		Escalation: escalation,
		RateLimit:  rateLimit,
		DDoS:       ddos,
		Abuse:      abuse,
		Sweep:      sweep,
	}
}
