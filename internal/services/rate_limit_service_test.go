package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/models"
)

func setupRateLimitTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.SecurityEvent{}, &models.IPListEntry{}, &models.Notification{})
	require.NoError(t, err)

	return db
}

func newRateLimitService(db *gorm.DB, cfg config.RateLimitConfig) *RateLimitService {
	events := NewEventService(db)
	lists := NewIPListService(db)
	alerts := NewAlertService(db, nil, "INFO")
	return NewRateLimitService(cfg, events, lists, alerts)
}

func seedRequests(t *testing.T, db *gorm.DB, identifier, ip string, n int) {
	t.Helper()
	events := NewEventService(db)
	for i := 0; i < n; i++ {
		err := events.Append(&models.SecurityEvent{
			EventType:  models.EventTypeRateLimit,
			IP:         ip,
			Identifier: identifier,
		})
		require.NoError(t, err)
	}
}

func TestRateLimitService_Admit_UnderLimit(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60, Burst: 2})

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 4)

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.False(t, res.Burst)
	assert.Equal(t, int64(4), res.Count)
}

func TestRateLimitService_Admit_BurstZone(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60, Burst: 2})

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 5)

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Burst)

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 1)

	res, err = svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Burst)
}

func TestRateLimitService_Admit_BurstExhausted(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60, Burst: 2})

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 7)

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.False(t, res.Burst)

	// The denial itself lands in the log with exceeded metadata.
	events := NewEventService(db)
	recent, err := events.Recent("1.2.3.4", models.EventTypeRateLimit, 1)
	assert.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Contains(t, recent[0].Metadata, `"exceeded":true`)
}

func TestRateLimitService_Admit_SixteenthDeniedAtLimitTenBurstFive(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 10, WindowSeconds: 60, Burst: 5})

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 15)

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRateLimitService_Admit_WhitelistBypass(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 1, WindowSeconds: 60})

	lists := NewIPListService(db)
	require.NoError(t, lists.Upsert("1.2.3.4", models.ListTypeWhitelist, "partner", nil))

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 100)

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Bypassed)
}

func TestRateLimitService_Admit_BlockedDenied(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 100, WindowSeconds: 60})

	lists := NewIPListService(db)
	expiry := time.Now().Add(time.Hour)
	require.NoError(t, lists.Upsert("1.2.3.4", models.ListTypeTempBlock, "ddos", &expiry))

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Blocked)
}

func TestRateLimitService_IdentifierPrecedence(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{
		Backend:        "store",
		Limit:          5,
		WindowSeconds:  60,
		APIKeyLimit:    600,
		EndpointLimits: map[string]int{"/ingest": 2},
	})

	res, err := svc.Admit("1.2.3.4", "/ingest", "abc123")
	assert.NoError(t, err)
	assert.Equal(t, "key:abc123", res.Identifier)
	assert.Equal(t, 600, res.Limit)

	res, err = svc.Admit("1.2.3.4", "/ingest", "")
	assert.NoError(t, err)
	assert.Equal(t, "1.2.3.4|/ingest", res.Identifier)
	assert.Equal(t, 2, res.Limit)

	res, err = svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.Equal(t, "1.2.3.4", res.Identifier)
	assert.Equal(t, 5, res.Limit)
}

func TestRateLimitService_Admit_ConfigurationErrors(t *testing.T) {
	db := setupRateLimitTestDB(t)

	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 0})
	_, err := svc.Admit("1.2.3.4", "", "")
	assert.ErrorIs(t, err, ErrConfiguration)

	svc = newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 0, WindowSeconds: 60})
	_, err = svc.Admit("1.2.3.4", "", "")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRateLimitService_Admit_FailsOpenOnStoreError(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60})

	require.NoError(t, db.Migrator().DropTable(&models.SecurityEvent{}))

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.FailOpen)

	// The gap is loud: a notification row was written.
	var count int64
	db.Model(&models.Notification{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRateLimitService_Record(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60})

	err := svc.Record("1.2.3.4", "/ingest", "", 404, "curl/8.0")
	assert.NoError(t, err)

	var ev models.SecurityEvent
	require.NoError(t, db.First(&ev).Error)
	assert.Equal(t, models.EventTypeRateLimit, ev.EventType)
	assert.Equal(t, "1.2.3.4|/ingest", ev.Identifier)
	assert.Equal(t, 404, ev.StatusCode)
	assert.Equal(t, "curl/8.0", ev.UserAgent)
}

func TestRateLimitService_Stats(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60, Burst: 2})

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 3)

	stats, err := svc.Stats("1.2.3.4", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(4), stats.Remaining)
	assert.Equal(t, 5, stats.Limit)

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 10)
	stats, err = svc.Stats("1.2.3.4", "")
	assert.NoError(t, err)
	assert.Zero(t, stats.Remaining)
}

func TestRateLimitService_Reset(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "store", Limit: 5, WindowSeconds: 60})

	seedRequests(t, db, "1.2.3.4", "1.2.3.4", 20)

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, svc.Reset("1.2.3.4", ""))

	res, err = svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.Count)
}

func TestRateLimitService_MemoryBackend(t *testing.T) {
	db := setupRateLimitTestDB(t)
	svc := newRateLimitService(db, config.RateLimitConfig{Backend: "memory", Limit: 1000, WindowSeconds: 60, Burst: 10})

	res, err := svc.Admit("1.2.3.4", "", "")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)

	// No events are written on the memory path.
	var count int64
	db.Model(&models.SecurityEvent{}).Count(&count)
	assert.Zero(t, count)
}
