package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenWriter accepts headers but fails every body write, like a client
// that hung up mid-response.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (w brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestWriteJSON_LogsEncodeFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h := NewHandler(nil, nil, nil, nil, logger)

	w := brokenWriter{httptest.NewRecorder()}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"unread_count": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "Failed to write response body", entry.Message)
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "connection reset by peer")
}

func TestWriteJSON_NoLogOnSuccess(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h := NewHandler(nil, nil, nil, nil, logger)

	w := httptest.NewRecorder()
	h.writeError(w, http.StatusNotFound, "not_found", "Handoff alert not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":{"code":"not_found","message":"Handoff alert not found"}}`, w.Body.String())
	assert.Empty(t, hook.AllEntries())
}
