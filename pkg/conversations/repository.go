// Package conversations keeps the minimal conversation read model the alert
// queue joins against: who the customer is and whether the conversation is
// still waiting on a human.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/constants"
	"handoff-escalation-service/pkg/models"
	"handoff-escalation-service/pkg/store"
)

var ErrNotFound = errors.New("conversation not found")

// Record is a stored conversation row
type Record struct {
	ID               int64
	MerchantID       int64
	PlatformSenderID string
	CustomerName     *string
	Status           string
	HandoffReason    *models.HandoffReason
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Repository interface {
	Upsert(ctx context.Context, conv models.Conversation) error
	MarkHandoff(ctx context.Context, merchantID, conversationID int64, reason models.HandoffReason) error
	Resolve(ctx context.Context, merchantID, conversationID int64) error
	Find(ctx context.Context, merchantID, conversationID int64) (*Record, error)
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

// Upsert records the snapshot seen on ingestion. An existing row keeps its
// status and creation time; sender and name are refreshed. A resolved
// conversation that receives a new message becomes active again. A row owned
// by another merchant is left alone and reported as ErrNotFound.
func (r *SQLRepository) Upsert(ctx context.Context, conv models.Conversation) error {
	now := r.now()
	created := conv.CreatedAt.UTC()
	if conv.CreatedAt.IsZero() {
		created = now
	}

	stmt := r.db.Builder().
		Insert("conversations").
		Columns("id", "merchant_id", "platform_sender_id", "customer_name", "status", "created_at", "updated_at").
		Values(conv.ID, conv.MerchantID, conv.PlatformSenderID, conv.CustomerName, constants.ConversationActive, created, now).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			platform_sender_id = excluded.platform_sender_id,
			customer_name = COALESCE(excluded.customer_name, conversations.customer_name),
			status = CASE WHEN conversations.status = ? THEN ? ELSE conversations.status END,
			updated_at = excluded.updated_at
			WHERE conversations.merchant_id = excluded.merchant_id`,
			constants.ConversationResolved, constants.ConversationActive)

	if err := store.ExecExpectOne(ctx, r.db, stmt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to upsert conversation %d: %w", conv.ID, err)
	}
	return nil
}

// MarkHandoff moves a merchant's conversation into the staff queue
func (r *SQLRepository) MarkHandoff(ctx context.Context, merchantID, conversationID int64, reason models.HandoffReason) error {
	stmt := r.db.Builder().
		Update("conversations").
		Set("status", constants.ConversationHandoff).
		Set("handoff_reason", string(reason)).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": conversationID, "merchant_id": merchantID})

	if err := store.ExecExpectOne(ctx, r.db, stmt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark conversation %d as handoff: %w", conversationID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"merchant_id":     merchantID,
		"reason":          reason,
	}).Debug("Conversation moved to handoff")
	return nil
}

// Resolve takes a conversation out of the queue. Only the owning merchant
// may resolve it.
func (r *SQLRepository) Resolve(ctx context.Context, merchantID, conversationID int64) error {
	stmt := r.db.Builder().
		Update("conversations").
		Set("status", constants.ConversationResolved).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": conversationID, "merchant_id": merchantID})

	if err := store.ExecExpectOne(ctx, r.db, stmt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to resolve conversation %d: %w", conversationID, err)
	}
	return nil
}

func (r *SQLRepository) Find(ctx context.Context, merchantID, conversationID int64) (*Record, error) {
	query := r.db.Builder().
		Select("id", "merchant_id", "platform_sender_id", "customer_name", "status", "handoff_reason", "created_at", "updated_at").
		From("conversations").
		Where(sq.Eq{"id": conversationID, "merchant_id": merchantID})

	rec, err := store.QueryOne(ctx, r.db, query, scanRecord)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %d: %w", conversationID, err)
	}
	return &rec, nil
}

func scanRecord(s store.Scanner) (Record, error) {
	var (
		rec    Record
		name   sql.NullString
		reason sql.NullString
	)

	if err := s.Scan(&rec.ID, &rec.MerchantID, &rec.PlatformSenderID, &name, &rec.Status, &reason, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}

	if name.Valid {
		rec.CustomerName = &name.String
	}
	if reason.Valid {
		hr := models.HandoffReason(reason.String)
		rec.HandoffReason = &hr
	}
	return rec, nil
}
