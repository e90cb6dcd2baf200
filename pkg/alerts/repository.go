// Package alerts persists handoff alerts and serves the merchant-scoped query
// surface behind the staff dashboard.
package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/store"
)

// Repository is the alert store. Every read and write is scoped by merchant
// except Create, which takes the merchant from the alert itself.
type Repository interface {
	Create(ctx context.Context, alert models.HandoffAlert) (models.HandoffAlert, error)
	List(ctx context.Context, merchantID int64, q ListQuery) (*ListResult, error)
	Find(ctx context.Context, merchantID, alertID int64) (*models.HandoffAlert, error)
	MarkRead(ctx context.Context, merchantID, alertID int64) (*models.HandoffAlert, error)
	MarkAllRead(ctx context.Context, merchantID int64) (int64, error)
	UnreadCount(ctx context.Context, merchantID int64) (int, error)
}

const (
	alertsTable = "handoff_alerts a"
	joinClause  = "conversations c ON c.id = a.conversation_id AND c.merchant_id = a.merchant_id"

	urgencyRankExpr = "CASE a.urgency_level WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC"
)

var alertColumns = []string{
	"a.id",
	"a.conversation_id",
	"a.merchant_id",
	"c.platform_sender_id",
	"a.urgency_level",
	"a.customer_name",
	"a.customer_id",
	"a.conversation_preview",
	"a.wait_time_seconds",
	"a.is_read",
	"a.is_offline",
	"a.created_at",
	"c.handoff_reason",
}

type SQLRepository struct {
	db     *store.DB
	logger *logrus.Logger
	now    func() time.Time
}

var _ Repository = (*SQLRepository)(nil)

func NewSQLRepository(db *store.DB, logger *logrus.Logger) *SQLRepository {
	return &SQLRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts one alert row. The returned alert carries the assigned id
// and creation time; IsRead is always false on a new alert.
func (r *SQLRepository) Create(ctx context.Context, alert models.HandoffAlert) (models.HandoffAlert, error) {
	preview, err := encodePreview(alert.ConversationPreview)
	if err != nil {
		return models.HandoffAlert{}, err
	}

	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = r.now()
	}
	alert.CreatedAt = alert.CreatedAt.UTC().Truncate(time.Microsecond)
	alert.IsRead = false

	stmt := r.db.Builder().
		Insert("handoff_alerts").
		Columns("conversation_id", "merchant_id", "urgency_level", "customer_name", "customer_id",
			"conversation_preview", "wait_time_seconds", "is_read", "is_offline", "created_at").
		Values(alert.ConversationID, alert.MerchantID, string(alert.UrgencyLevel), alert.CustomerName, alert.CustomerID,
			preview, alert.WaitTimeSeconds, false, alert.IsOffline, alert.CreatedAt).
		Suffix("RETURNING id")

	id, err := store.QueryOne(ctx, r.db, stmt, scanID)
	if err != nil {
		return models.HandoffAlert{}, fmt.Errorf("failed to insert handoff alert for conversation %d: %w", alert.ConversationID, err)
	}
	alert.ID = id

	r.logger.WithFields(logrus.Fields{
		"alert_id":        alert.ID,
		"conversation_id": alert.ConversationID,
		"merchant_id":     alert.MerchantID,
		"urgency":         alert.UrgencyLevel,
	}).Debug("Handoff alert stored")

	return alert, nil
}

func (r *SQLRepository) List(ctx context.Context, merchantID int64, q ListQuery) (*ListResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	filtered := func(b sq.SelectBuilder) sq.SelectBuilder {
		b = b.From(alertsTable).
			LeftJoin(joinClause).
			Where(sq.Eq{"a.merchant_id": merchantID})
		if q.Urgency != nil {
			b = b.Where(sq.Eq{"a.urgency_level": string(*q.Urgency)})
		}
		if q.View == ViewQueue {
			b = b.Where(sq.Eq{"c.status": constants.ConversationHandoff})
		}
		return b
	}

	total, err := store.QueryOne(ctx, r.db, filtered(r.db.Builder().Select("COUNT(*)")), scanCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count handoff alerts: %w", err)
	}

	unread, err := r.UnreadCount(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	meta := ListMeta{
		Total:       total,
		Page:        q.Page,
		Limit:       q.Limit,
		UnreadCount: unread,
	}

	if q.View == ViewQueue {
		waiting, err := store.QueryOne(ctx, r.db, filtered(r.db.Builder().Select("COUNT(DISTINCT a.conversation_id)")), scanCount)
		if err != nil {
			return nil, fmt.Errorf("failed to count waiting conversations: %w", err)
		}
		meta.TotalWaiting = &waiting
	}

	page := filtered(r.db.Builder().Select(alertColumns...)).
		Limit(uint64(q.Limit)).
		Offset(uint64(q.Offset()))

	switch q.SortBy {
	case SortUrgencyDesc:
		page = page.OrderBy(urgencyRankExpr, "a.wait_time_seconds DESC", "a.created_at DESC", "a.id DESC")
	default:
		page = page.OrderBy("a.created_at DESC", "a.id DESC")
	}

	items, err := store.QueryMany(ctx, r.db, page, scanAlert)
	if err != nil {
		return nil, fmt.Errorf("failed to query handoff alerts: %w", err)
	}

	return &ListResult{Data: items, Meta: meta}, nil
}

func (r *SQLRepository) Find(ctx context.Context, merchantID, alertID int64) (*models.HandoffAlert, error) {
	query := r.db.Builder().
		Select(alertColumns...).
		From(alertsTable).
		LeftJoin(joinClause).
		Where(sq.Eq{"a.id": alertID, "a.merchant_id": merchantID})

	alert, err := store.QueryOne(ctx, r.db, query, scanAlert)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load handoff alert %d: %w", alertID, err)
	}
	return &alert, nil
}

// MarkRead is idempotent. An alert owned by another merchant is reported as
// not found.
func (r *SQLRepository) MarkRead(ctx context.Context, merchantID, alertID int64) (*models.HandoffAlert, error) {
	stmt := r.db.Builder().
		Update("handoff_alerts").
		Set("is_read", true).
		Where(sq.Eq{"id": alertID, "merchant_id": merchantID})

	if err := store.ExecExpectOne(ctx, r.db, stmt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark handoff alert %d read: %w", alertID, err)
	}

	return r.Find(ctx, merchantID, alertID)
}

// MarkAllRead flips only unread rows and returns how many changed
func (r *SQLRepository) MarkAllRead(ctx context.Context, merchantID int64) (int64, error) {
	stmt := r.db.Builder().
		Update("handoff_alerts").
		Set("is_read", true).
		Where(sq.Eq{"merchant_id": merchantID, "is_read": false})

	n, err := store.Exec(ctx, r.db, stmt)
	if err != nil {
		return 0, fmt.Errorf("failed to mark handoff alerts read: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"merchant_id": merchantID,
		"updated":     n,
	}).Debug("Marked all handoff alerts read")

	return n, nil
}

func (r *SQLRepository) UnreadCount(ctx context.Context, merchantID int64) (int, error) {
	query := r.db.Builder().
		Select("COUNT(*)").
		From("handoff_alerts").
		Where(sq.Eq{"merchant_id": merchantID, "is_read": false})

	n, err := store.QueryOne(ctx, r.db, query, scanCount)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread handoff alerts: %w", err)
	}
	return n, nil
}

func encodePreview(preview []string) (*string, error) {
	if len(preview) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(preview)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation preview: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func scanID(s store.Scanner) (int64, error) {
	var id int64
	if err := s.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func scanCount(s store.Scanner) (int, error) {
	var n int
	if err := s.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanAlert(s store.Scanner) (models.HandoffAlert, error) {
	var (
		a          models.HandoffAlert
		senderID   sql.NullString
		urgency    string
		name       sql.NullString
		customerID sql.NullString
		preview    sql.NullString
		reason     sql.NullString
	)

	err := s.Scan(
		&a.ID,
		&a.ConversationID,
		&a.MerchantID,
		&senderID,
		&urgency,
		&name,
		&customerID,
		&preview,
		&a.WaitTimeSeconds,
		&a.IsRead,
		&a.IsOffline,
		&a.CreatedAt,
		&reason,
	)
	if err != nil {
		return models.HandoffAlert{}, err
	}

	a.UrgencyLevel = models.UrgencyLevel(urgency)
	a.CreatedAt = a.CreatedAt.UTC()

	if senderID.Valid && senderID.String != "" {
		a.PlatformSenderID = &senderID.String
	}
	if name.Valid {
		a.CustomerName = &name.String
	}
	if customerID.Valid {
		a.CustomerID = &customerID.String
	}
	if preview.Valid && preview.String != "" {
		if err := json.Unmarshal([]byte(preview.String), &a.ConversationPreview); err != nil {
			return models.HandoffAlert{}, fmt.Errorf("failed to decode conversation preview for alert %d: %w", a.ID, err)
		}
	}
	if reason.Valid {
		hr := models.HandoffReason(reason.String)
		a.HandoffReason = &hr
	}

	return a, nil
}
