package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/models"
)

// quietAbuseConfig has every threshold high enough that nothing fires by
// accident; individual tests lower the threshold under test.
func quietAbuseConfig() config.AbuseConfig {
	return config.AbuseConfig{
		RapidCount:         1000,
		RapidWindowSeconds: 10,
		ErrorRate:          0.99,
		ExcessiveCount:     100000,
		AnomalyMultiplier:  1000,
		BaselineDays:       7,
		EndpointDiversity:  1000,
		UADiversity:        1000,
	}
}

func setupAbuseTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.SecurityEvent{}, &models.IPListEntry{}, &models.Notification{})
	require.NoError(t, err)

	return db
}

func newAbuseService(db *gorm.DB, cfg config.AbuseConfig) *AbuseService {
	events := NewEventService(db)
	lists := NewIPListService(db)
	alerts := NewAlertService(db, nil, "INFO")
	escalation := NewEscalationService(config.EscalationConfig{
		FirstBlockMinutes:   15,
		RepeatBlockMinutes:  60,
		ChronicBlockMinutes: 1440,
		HistoryHours:        24,
	}, events, lists, alerts)
	return NewAbuseService(cfg, events, lists, alerts, escalation)
}

func appendEvents(t *testing.T, db *gorm.DB, ip string, n int, at time.Time, mutate func(i int, ev *models.SecurityEvent)) {
	t.Helper()
	events := make([]models.SecurityEvent, n)
	for i := range events {
		events[i] = models.SecurityEvent{
			EventType:  models.EventTypeRateLimit,
			IP:         ip,
			Identifier: ip,
			CreatedAt:  at,
		}
		if mutate != nil {
			mutate(i, &events[i])
		}
	}
	require.NoError(t, db.CreateInBatches(events, 500).Error)
}

func reasonNames(reasons []AbuseReason) []string {
	names := make([]string, len(reasons))
	for i, r := range reasons {
		names[i] = r.Name
	}
	return names
}

func TestAbuseService_Analyze_RapidRequests(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.RapidCount = 10
	cfg.RapidWindowSeconds = 10
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 12, time.Now(), nil)

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.True(t, report.Abusive)
	assert.Contains(t, reasonNames(report.Reasons), "rapid_requests")
	assert.Equal(t, 15*time.Minute, report.BlockDuration)

	lists := NewIPListService(db)
	entry, err := lists.Get("1.2.3.4")
	assert.NoError(t, err)
	assert.Equal(t, models.ListTypeTempBlock, entry.ListType)

	// The verdict is in the log with its reasons.
	events := NewEventService(db)
	recent, err := events.Recent("1.2.3.4", models.EventTypeAbuse, 1)
	assert.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0].Metadata, "rapid_requests")
}

func TestAbuseService_Analyze_ErrorRate(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.ErrorRate = 0.5
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 10, time.Now().Add(-time.Minute), func(i int, ev *models.SecurityEvent) {
		if i < 6 {
			ev.StatusCode = 500
		} else {
			ev.StatusCode = 200
		}
	})

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.True(t, report.Abusive)
	assert.Contains(t, reasonNames(report.Reasons), "error_rate")
}

func TestAbuseService_Analyze_ExcessiveRequests(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.ExcessiveCount = 50
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 50, time.Now().Add(-time.Minute), nil)

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.True(t, report.Abusive)
	assert.Contains(t, reasonNames(report.Reasons), "excessive_requests")
}

func TestAbuseService_Analyze_AnomalyNeverFiresWithoutBaseline(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.AnomalyMultiplier = 1.1
	svc := newAbuseService(db, cfg)

	// Heavy activity in the current hour only. With no history the baseline
	// is zero and the anomaly check must be skipped, not tripped.
	appendEvents(t, db, "1.2.3.4", 200, time.Now(), nil)

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.NotContains(t, reasonNames(report.Reasons), "traffic_anomaly")
}

func TestAbuseService_Analyze_AnomalyAgainstBaseline(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.AnomalyMultiplier = 3.0
	cfg.BaselineDays = 1
	svc := newAbuseService(db, cfg)

	// Baseline: 24 events over the prior day, one per hour, so the mean
	// hourly count is 1.
	hourStart := time.Now().Truncate(time.Hour)
	for i := 1; i <= 24; i++ {
		appendEvents(t, db, "1.2.3.4", 1, hourStart.Add(-time.Duration(i)*time.Hour), nil)
	}

	// Three events this hour meets 3x the baseline.
	appendEvents(t, db, "1.2.3.4", 3, time.Now(), nil)

	report, err := svc.Inspect("1.2.3.4")
	assert.NoError(t, err)
	assert.Contains(t, reasonNames(report.Reasons), "traffic_anomaly")
}

func TestAbuseService_Analyze_EndpointDiversity(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.EndpointDiversity = 20
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 25, time.Now(), func(i int, ev *models.SecurityEvent) {
		ev.Endpoint = "/resource/" + string(rune('a'+i))
	})

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.Contains(t, reasonNames(report.Reasons), "high_endpoint_diversity")
}

func TestAbuseService_Analyze_UserAgentDiversity(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.UADiversity = 10
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 12, time.Now(), func(i int, ev *models.SecurityEvent) {
		ev.UserAgent = "agent-" + string(rune('a'+i))
	})

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.Contains(t, reasonNames(report.Reasons), "high_ua_diversity")
}

func TestAbuseService_Analyze_StandingBlockDoesNotReEscalate(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.RapidCount = 10
	cfg.RapidWindowSeconds = 10
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 12, time.Now(), nil)

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	require.True(t, report.Abusive)
	require.Equal(t, 15*time.Minute, report.BlockDuration)

	lists := NewIPListService(db)
	entry, err := lists.Get("1.2.3.4")
	require.NoError(t, err)
	firstExpiry := *entry.ExpiresAt

	// The rapid window still holds the same 12 events, but the standing
	// block short-circuits analysis: repeated passes must not climb the
	// tiers off the one offense.
	for i := 0; i < 2; i++ {
		report, err = svc.Analyze(context.Background(), "1.2.3.4")
		assert.NoError(t, err)
		assert.True(t, report.Blocked)
		assert.False(t, report.Abusive)
	}

	entry, err = lists.Get("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, firstExpiry, *entry.ExpiresAt)

	events := NewEventService(db)
	verdicts, err := events.CountByIP("1.2.3.4", []models.EventType{models.EventTypeAbuse}, time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), verdicts)
}

func TestAbuseService_Analyze_WhitelistedSkipped(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.RapidCount = 1
	svc := newAbuseService(db, cfg)

	lists := NewIPListService(db)
	require.NoError(t, lists.Upsert("1.2.3.4", models.ListTypeWhitelist, "partner", nil))

	appendEvents(t, db, "1.2.3.4", 100, time.Now(), nil)

	report, err := svc.Analyze(context.Background(), "1.2.3.4")
	assert.NoError(t, err)
	assert.False(t, report.Abusive)
	assert.Empty(t, report.Reasons)
}

func TestAbuseService_Inspect_DoesNotBlockOrRecord(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.RapidCount = 5
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 10, time.Now(), nil)

	report, err := svc.Inspect("1.2.3.4")
	assert.NoError(t, err)
	assert.True(t, report.Abusive)
	assert.Zero(t, report.BlockDuration)

	lists := NewIPListService(db)
	_, err = lists.Get("1.2.3.4")
	assert.ErrorIs(t, err, ErrIPListEntryNotFound)

	events := NewEventService(db)
	recent, err := events.Recent("1.2.3.4", models.EventTypeAbuse, 1)
	assert.NoError(t, err)
	assert.Empty(t, recent)
}

func TestAbuseService_AnalyzeAll(t *testing.T) {
	db := setupAbuseTestDB(t)
	cfg := quietAbuseConfig()
	cfg.RapidCount = 10
	svc := newAbuseService(db, cfg)

	appendEvents(t, db, "1.2.3.4", 20, time.Now(), nil)
	appendEvents(t, db, "5.6.7.8", 2, time.Now(), nil)

	abusive, err := svc.AnalyzeAll(context.Background())
	assert.NoError(t, err)
	require.Len(t, abusive, 1)
	assert.Equal(t, "1.2.3.4", abusive[0].IP)
}

func TestAbuseService_AnalyzeAll_CanceledContextTruncates(t *testing.T) {
	db := setupAbuseTestDB(t)
	svc := newAbuseService(db, quietAbuseConfig())

	appendEvents(t, db, "1.2.3.4", 5, time.Now(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	abusive, err := svc.AnalyzeAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, abusive)
}
