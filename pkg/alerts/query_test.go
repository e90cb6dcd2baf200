package alerts

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff-escalation-service/pkg/models"
)

func TestParseListQuery(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{"defaults", "", ""},
		{"full", "page=2&limit=50&urgency=high&view=queue&sort_by=urgency_desc", ""},
		{"limit upper bound", "limit=100", ""},
		{"page zero", "page=0", CodeInvalidPage},
		{"page not a number", "page=two", CodeInvalidPage},
		{"limit zero", "limit=0", CodeInvalidLimit},
		{"limit too large", "limit=101", CodeInvalidLimit},
		{"limit not a number", "limit=ten", CodeInvalidLimit},
		{"unknown urgency", "urgency=critical", CodeInvalidUrgency},
		{"urgency is case sensitive", "urgency=HIGH", CodeInvalidUrgency},
		{"unknown view", "view=inbox", CodeInvalidView},
		{"unknown sort", "sort_by=created_asc", CodeInvalidSortBy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)

			_, err = ParseListQuery(values)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantCode, verr.Code)
			assert.Equal(t, 400, MapHTTPStatus(err))
		})
	}
}

func TestParseListQuery_Values(t *testing.T) {
	values, _ := url.ParseQuery("page=3&limit=10&urgency=medium&view=queue&sort_by=urgency_desc")

	q, err := ParseListQuery(values)
	require.NoError(t, err)
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, 10, q.Limit)
	require.NotNil(t, q.Urgency)
	assert.Equal(t, models.UrgencyMedium, *q.Urgency)
	assert.Equal(t, ViewQueue, q.View)
	assert.Equal(t, SortUrgencyDesc, q.SortBy)
	assert.Equal(t, 20, q.Offset())
}

func TestDefaultListQuery(t *testing.T) {
	q := DefaultListQuery()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Equal(t, ViewNotifications, q.View)
	assert.Equal(t, SortCreatedDesc, q.SortBy)
	assert.Nil(t, q.Urgency)
	assert.Equal(t, 0, q.Offset())
}

func TestMapHTTPStatus(t *testing.T) {
	assert.Equal(t, 404, MapHTTPStatus(ErrNotFound))
	assert.Equal(t, 500, MapHTTPStatus(assert.AnError))
}
