package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-escalation-service/pkg/config"
	"handoff-escalation-service/pkg/handlers"
	"handoff-escalation-service/pkg/store/storetest"
)

func testConfig(mode, ingestMode string) *config.Config {
	return &config.Config{
		Port:              "0",
		PodID:             "test-pod",
		Mode:              mode,
		IngestMode:        ingestMode,
		StreamName:        "handoff_message_events_test",
		ConsumerGroupName: "handoff-processors-test",
		Database:          config.DatabaseConfig{Driver: "sqlite3"},
		Detection: config.DetectionConfig{
			ConfidenceThreshold:       0.5,
			ConfidenceTriggerCount:    3,
			ClarificationTriggerCount: 3,
			SignalTTLSeconds:          86400,
		},
		Notification: config.NotificationConfig{
			EmailEnabled:           true,
			EmailTimeoutMS:         1000,
			EmailRateWindowSeconds: 86400,
			BusinessHours:          config.BusinessHours{Timezone: "UTC"},
		},
	}
}

func setupTestService(t *testing.T, cfg *config.Config) *Service {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := NewService(cfg, rdb, storetest.Open(t), prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	return s
}

func call(t *testing.T, s *Service, method, path string, body interface{}) map[string]interface{} {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set(handlers.MerchantHeader, "7")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func unreadCount(t *testing.T, s *Service) float64 {
	return call(t, s, http.MethodGet, "/handoff-alerts/unread-count", nil)["unread_count"].(float64)
}

func TestService_LiveModeCreatesAlerts(t *testing.T) {
	s := setupTestService(t, testConfig(config.ModeLive, config.IngestInline))

	result := call(t, s, http.MethodPost, "/conversations/1/messages", map[string]interface{}{"message": "let me talk to a manager"})
	assert.Equal(t, true, result["should_handoff"])
	assert.Equal(t, float64(1), unreadCount(t, s))
}

func TestService_EvaluateModeNeverPersists(t *testing.T) {
	s := setupTestService(t, testConfig(config.ModeEvaluate, config.IngestInline))

	result := call(t, s, http.MethodPost, "/conversations/1/messages", map[string]interface{}{"message": "let me talk to a manager"})
	assert.Equal(t, true, result["should_handoff"])
	assert.Equal(t, float64(0), unreadCount(t, s))
}

func TestService_DisabledModeNeverTriggers(t *testing.T) {
	s := setupTestService(t, testConfig(config.ModeDisabled, config.IngestInline))

	result := call(t, s, http.MethodPost, "/conversations/1/messages", map[string]interface{}{"message": "let me talk to a manager"})
	assert.Equal(t, false, result["should_handoff"])
	assert.Equal(t, float64(0), unreadCount(t, s))
}

func TestService_InvalidTimezone(t *testing.T) {
	cfg := testConfig(config.ModeLive, config.IngestInline)
	cfg.Notification.BusinessHours.Timezone = "Mars/Olympus"

	_, err := NewService(cfg, redis.NewClient(&redis.Options{Addr: "localhost:0"}), storetest.Open(t), prometheus.NewRegistry(), logrus.New())
	assert.Error(t, err)
}

func TestService_StreamModeProcessesQueuedMessages(t *testing.T) {
	s := setupTestService(t, testConfig(config.ModeLive, config.IngestStream))
	require.NotNil(t, s.consumer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.consumer.Run(ctx) }()

	accepted := call(t, s, http.MethodPost, "/conversations/2/messages", map[string]interface{}{"message": "human please"})
	assert.Equal(t, true, accepted["accepted"])

	require.Eventually(t, func() bool { return unreadCount(t, s) == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
