package alerts

import (
	"net/url"
	"strconv"

	"handoff-escalation-service/pkg/models"
)

type View string

const (
	ViewNotifications View = "notifications"
	ViewQueue         View = "queue"
)

type SortBy string

const (
	SortCreatedDesc SortBy = "created_desc"
	SortUrgencyDesc SortBy = "urgency_desc"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ListQuery selects one page of a merchant's alerts
type ListQuery struct {
	Page    int
	Limit   int
	Urgency *models.UrgencyLevel
	View    View
	SortBy  SortBy
}

func DefaultListQuery() ListQuery {
	return ListQuery{
		Page:   1,
		Limit:  DefaultLimit,
		View:   ViewNotifications,
		SortBy: SortCreatedDesc,
	}
}

// ParseListQuery reads page, limit, urgency, view and sort_by. Absent
// parameters take their defaults; present but invalid ones are rejected.
func ParseListQuery(values url.Values) (ListQuery, error) {
	q := DefaultListQuery()

	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return q, invalid(CodeInvalidPage, "page", "must be an integer, got %q", raw)
		}
		q.Page = page
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, invalid(CodeInvalidLimit, "limit", "must be an integer, got %q", raw)
		}
		q.Limit = limit
	}

	if raw := values.Get("urgency"); raw != "" {
		u, err := models.ParseUrgencyLevel(raw)
		if err != nil {
			return q, invalid(CodeInvalidUrgency, "urgency", "must be one of high, medium, low; got %q", raw)
		}
		q.Urgency = &u
	}

	if raw := values.Get("view"); raw != "" {
		q.View = View(raw)
	}

	if raw := values.Get("sort_by"); raw != "" {
		q.SortBy = SortBy(raw)
	}

	return q, q.Validate()
}

func (q ListQuery) Validate() error {
	if q.Page < 1 {
		return invalid(CodeInvalidPage, "page", "must be at least 1, got %d", q.Page)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return invalid(CodeInvalidLimit, "limit", "must be between 1 and %d, got %d", MaxLimit, q.Limit)
	}
	if q.Urgency != nil {
		if _, err := models.ParseUrgencyLevel(string(*q.Urgency)); err != nil {
			return invalid(CodeInvalidUrgency, "urgency", "must be one of high, medium, low; got %q", *q.Urgency)
		}
	}
	switch q.View {
	case ViewNotifications, ViewQueue:
	default:
		return invalid(CodeInvalidView, "view", "must be notifications or queue, got %q", q.View)
	}
	switch q.SortBy {
	case SortCreatedDesc, SortUrgencyDesc:
	default:
		return invalid(CodeInvalidSortBy, "sort_by", "must be created_desc or urgency_desc, got %q", q.SortBy)
	}
	return nil
}

func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// ListMeta is the envelope metadata. TotalWaiting is set for the queue view only.
type ListMeta struct {
	Total        int  `json:"total"`
	Page         int  `json:"page"`
	Limit        int  `json:"limit"`
	UnreadCount  int  `json:"unread_count"`
	TotalWaiting *int `json:"total_waiting,omitempty"`
}

type ListResult struct {
	Data []models.HandoffAlert `json:"data"`
	Meta ListMeta              `json:"meta"`
}
