package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/metrics"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/signals"
)

func setupTestDetector(t *testing.T) (*SignalDetector, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := signals.NewRedisStore(rdb, logger, metrics.NewMetrics(prometheus.NewRegistry()))
	return NewSignalDetector(store, DefaultOptions(), logger), mr
}

func conf(v float64) *float64 { return &v }

func str(s string) *string { return &s }

func TestEvaluate_KeywordBoundary(t *testing.T) {
	d, _ := setupTestDetector(t)
	ctx := context.Background()

	tests := []struct {
		message string
		want    bool
		keyword string
	}{
		{"I need a human", true, "human"},
		{"HUMAN please!", true, "human"},
		{"can I talk to  someone about this", true, "talk to someone"},
		{"get me your manager.", true, "manager"},
		{"I believe in humanity", false, ""},
		{"that was inhuman", false, ""},
		{"the reagent arrived", false, ""},
		{"where is my order", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			result := d.Evaluate(ctx, 1, models.Message{Text: tt.message})
			assert.Equal(t, tt.want, result.ShouldHandoff)
			if tt.want {
				require.NotNil(t, result.Reason)
				assert.Equal(t, models.ReasonKeyword, *result.Reason)
				require.NotNil(t, result.MatchedKeyword)
				assert.Equal(t, tt.keyword, *result.MatchedKeyword)
			} else {
				assert.Nil(t, result.Reason)
			}
		})
	}
}

func TestEvaluate_ConfidenceStreak(t *testing.T) {
	d, mr := setupTestDetector(t)
	ctx := context.Background()
	msg := models.Message{Text: "what about the blue one", Confidence: conf(0.3)}

	r := d.Evaluate(ctx, 10, msg)
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 1, r.ConfidenceStreakCount)

	r = d.Evaluate(ctx, 10, msg)
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 2, r.ConfidenceStreakCount)

	r = d.Evaluate(ctx, 10, msg)
	assert.True(t, r.ShouldHandoff)
	require.NotNil(t, r.Reason)
	assert.Equal(t, models.ReasonLowConfidence, *r.Reason)
	assert.Equal(t, 3, r.ConfidenceStreakCount)

	// Counter is cleared on trigger
	assert.False(t, mr.Exists(constants.ConfidenceCountKey(10)))
}

func TestEvaluate_ConfidenceStreakResetByHighScore(t *testing.T) {
	d, _ := setupTestDetector(t)
	ctx := context.Background()
	low := models.Message{Text: "hmm", Confidence: conf(0.3)}
	high := models.Message{Text: "ok", Confidence: conf(0.8)}

	d.Evaluate(ctx, 11, low)
	d.Evaluate(ctx, 11, low)

	r := d.Evaluate(ctx, 11, high)
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 0, r.ConfidenceStreakCount)

	assert.False(t, d.Evaluate(ctx, 11, low).ShouldHandoff)
	assert.False(t, d.Evaluate(ctx, 11, low).ShouldHandoff)
	assert.True(t, d.Evaluate(ctx, 11, low).ShouldHandoff)
}

func TestEvaluate_ConfidenceThresholdIsExclusive(t *testing.T) {
	d, _ := setupTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := d.Evaluate(ctx, 12, models.Message{Text: "x", Confidence: conf(0.5)})
		assert.False(t, r.ShouldHandoff)
		assert.Equal(t, 0, r.ConfidenceStreakCount)
	}
}

func TestEvaluate_NilConfidenceIsNoop(t *testing.T) {
	d, _ := setupTestDetector(t)
	ctx := context.Background()

	d.Evaluate(ctx, 13, models.Message{Text: "x", Confidence: conf(0.1)})

	r := d.Evaluate(ctx, 13, models.Message{Text: "y"})
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 1, r.ConfidenceStreakCount)

	r = d.Evaluate(ctx, 13, models.Message{Text: "z", Confidence: conf(0.1)})
	assert.Equal(t, 2, r.ConfidenceStreakCount)
}

func TestEvaluate_StreaksAreScopedPerConversation(t *testing.T) {
	d, _ := setupTestDetector(t)
	ctx := context.Background()
	low := models.Message{Text: "x", Confidence: conf(0.2)}

	d.Evaluate(ctx, 20, low)
	d.Evaluate(ctx, 20, low)

	r := d.Evaluate(ctx, 21, low)
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 1, r.ConfidenceStreakCount)
}

func TestEvaluate_ClarificationLoop(t *testing.T) {
	d, mr := setupTestDetector(t)
	ctx := context.Background()
	msg := models.Message{Text: "medium I think", ClarificationType: str("size")}

	r := d.Evaluate(ctx, 30, msg)
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 1, r.LoopCount)

	r = d.Evaluate(ctx, 30, msg)
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 2, r.LoopCount)

	r = d.Evaluate(ctx, 30, msg)
	assert.True(t, r.ShouldHandoff)
	require.NotNil(t, r.Reason)
	assert.Equal(t, models.ReasonClarificationLoop, *r.Reason)
	assert.Equal(t, 3, r.LoopCount)

	assert.False(t, mr.Exists(constants.ClarificationStateKey(30)))
}

func TestEvaluate_ClarificationTypeChangeRestartsLoop(t *testing.T) {
	d, mr := setupTestDetector(t)
	ctx := context.Background()

	d.Evaluate(ctx, 31, models.Message{Text: "a", ClarificationType: str("size")})

	r := d.Evaluate(ctx, 31, models.Message{Text: "b", ClarificationType: str("color")})
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 1, r.LoopCount)

	r = d.Evaluate(ctx, 31, models.Message{Text: "c", ClarificationType: str("color")})
	assert.False(t, r.ShouldHandoff)
	assert.Equal(t, 2, r.LoopCount)

	// State carries a 24h TTL
	assert.Equal(t, 24*time.Hour, mr.TTL(constants.ClarificationStateKey(31)))
}

func TestEvaluate_KeywordWinsOverOtherSignals(t *testing.T) {
	d, mr := setupTestDetector(t)
	ctx := context.Background()

	r := d.Evaluate(ctx, 40, models.Message{Text: "agent", Confidence: conf(0.1), ClarificationType: str("size")})
	assert.True(t, r.ShouldHandoff)
	assert.Equal(t, models.ReasonKeyword, *r.Reason)

	// Keyword short-circuits: no counters were touched
	assert.False(t, mr.Exists(constants.ConfidenceCountKey(40)))
	assert.False(t, mr.Exists(constants.ClarificationStateKey(40)))
}

func TestResetState(t *testing.T) {
	d, mr := setupTestDetector(t)
	ctx := context.Background()

	d.Evaluate(ctx, 50, models.Message{Text: "x", Confidence: conf(0.1), ClarificationType: str("size")})
	require.True(t, mr.Exists(constants.ConfidenceCountKey(50)))
	require.True(t, mr.Exists(constants.ClarificationStateKey(50)))

	require.NoError(t, d.ResetState(ctx, 50))
	assert.False(t, mr.Exists(constants.ConfidenceCountKey(50)))
	assert.False(t, mr.Exists(constants.ClarificationStateKey(50)))
}

type failingStore struct{}

var errUnavailable = errors.New("signal store unavailable")

func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errUnavailable
}
func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errUnavailable
}
func (failingStore) Set(context.Context, string, string, time.Duration) error { return errUnavailable }
func (failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errUnavailable
}
func (failingStore) Exists(context.Context, string) (bool, error) { return false, errUnavailable }
func (failingStore) Delete(context.Context, ...string) error      { return errUnavailable }

func TestEvaluate_StoreFailureDegrades(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	d := NewSignalDetector(failingStore{}, DefaultOptions(), logger)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r := d.Evaluate(ctx, 60, models.Message{Text: "hmm", Confidence: conf(0.1), ClarificationType: str("size")})
		assert.False(t, r.ShouldHandoff)
	}

	// Keyword detection needs no store
	r := d.Evaluate(ctx, 60, models.Message{Text: "human please"})
	assert.True(t, r.ShouldHandoff)
}

func TestDisabled(t *testing.T) {
	d := Disabled()

	r := d.Evaluate(context.Background(), 1, models.Message{Text: "I need a human", Confidence: conf(0.0)})
	assert.False(t, r.ShouldHandoff)
	assert.Nil(t, r.Reason)
	assert.NoError(t, d.ResetState(context.Background(), 1))
}

func TestCustomKeywords(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	opts := DefaultOptions()
	opts.Keywords = []string{"refund", "cancel order"}
	d := NewSignalDetector(failingStore{}, opts, logger)

	r := d.Evaluate(context.Background(), 1, models.Message{Text: "please CANCEL   ORDER 55"})
	assert.True(t, r.ShouldHandoff)
	assert.Equal(t, "cancel order", *r.MatchedKeyword)

	assert.False(t, d.Evaluate(context.Background(), 1, models.Message{Text: "I need a human"}).ShouldHandoff)
}

func TestEvaluate_ConcurrentLowConfidenceSameConversation(t *testing.T) {
	d, mr := setupTestDetector(t)
	ctx := context.Background()
	msg := models.Message{Text: "hmm", Confidence: conf(0.1)}

	n := DefaultOptions().ConfidenceTriggerCount
	results := make([]models.HandoffResult, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Evaluate(ctx, 77, msg)
		}(i)
	}
	wg.Wait()

	triggers := 0
	counts := make(map[int]bool)
	for _, r := range results {
		counts[r.ConfidenceStreakCount] = true
		if r.ShouldHandoff {
			triggers++
			require.NotNil(t, r.Reason)
			assert.Equal(t, models.ReasonLowConfidence, *r.Reason)
		}
	}

	// Each concurrent message saw its own increment
	assert.Len(t, counts, n)
	assert.Equal(t, 1, triggers)
	assert.False(t, mr.Exists(constants.ConfidenceCountKey(77)))
}
