package database

import (
	"context"
	"errors"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// messageRecord is the stored shape of a message. Display fields are not
// stored; they are resolved on read.
type messageRecord struct {
	ID          *models.RecordID      `json:"id,omitempty"`
	MessageID   string                `json:"message_id"`
	SenderID    string                `json:"sender_id"`
	RecipientID *string               `json:"recipient_id"`
	Content     string                `json:"content"`
	CreatedAt   models.CustomDateTime `json:"created_at"`
}

func toMessageRecord(m domain.Message) messageRecord {
	return messageRecord{
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.Recipient.ID(),
		Content:     m.Content,
		CreatedAt:   models.CustomDateTime{Time: m.CreatedAt.UTC()},
	}
}

func (r messageRecord) toDomain() (domain.Message, error) {
	if r.MessageID == "" || r.SenderID == "" {
		return domain.Message{}, domain.Invalid("stored message without id or sender")
	}
	return domain.Message{
		ID:        r.MessageID,
		SenderID:  r.SenderID,
		Recipient: domain.RecipientFromID(r.RecipientID),
		Content:   r.Content,
		CreatedAt: r.CreatedAt.Time.UTC(),
	}, nil
}

const (
	recentGlobalQuery = `SELECT * FROM message
		WHERE recipient_id = NONE OR recipient_id = NULL
		ORDER BY created_at DESC, message_id DESC LIMIT $limit`

	recentPairQuery = `SELECT * FROM message
		WHERE (sender_id = $self AND recipient_id = $peer)
		   OR (sender_id = $peer AND recipient_id = $self)
		ORDER BY created_at DESC, message_id DESC LIMIT $limit`

	messageByIDQuery = "SELECT * FROM message WHERE message_id = $id"
)

// MessageStore is the SurrealDB domain.MessageRepository.
type MessageStore struct {
	conn DBConnection
}

// NewMessageStore creates a store on conn.
func NewMessageStore(conn DBConnection) *MessageStore {
	return &MessageStore{conn: conn}
}

// Insert implements domain.MessageRepository. The record id is the message id.
func (s *MessageStore) Insert(ctx context.Context, m domain.Message) error {
	ctx, cancel := timeoutFromContext(ctx, s.conn.ExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	params := map[string]any{
		"rid":  models.NewRecordID(messageTable, m.ID),
		"data": toMessageRecord(m),
	}
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, "CREATE $rid CONTENT $data", params)
	})
	if err != nil {
		err = WrapError(err, "insert message")
		if errors.Is(err, ErrAlreadyExists) {
			return domain.Invalid("duplicate message id %s", m.ID)
		}
		return err
	}
	return nil
}

// Recent implements domain.MessageRepository. Rows come back newest first.
func (s *MessageStore) Recent(ctx context.Context, self string, view domain.View, limit int) ([]domain.Message, error) {
	ctx, cancel := timeoutFromContext(ctx, s.conn.QueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	query := recentGlobalQuery
	params := map[string]any{"limit": limit}
	if !view.IsGlobal() {
		query = recentPairQuery
		params["self"] = self
		params["peer"] = view.PeerID()
	}

	var rows []messageRecord
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[messageRecord](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, WrapError(err, "recent messages")
	}
	return recordsToMessages(rows)
}

// Get loads one message by id.
func (s *MessageStore) Get(ctx context.Context, id string) (domain.Message, error) {
	ctx, cancel := timeoutFromContext(ctx, s.conn.QueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var row *messageRecord
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[messageRecord](ctx, db, messageByIDQuery, map[string]any{"id": id})
		return err
	})
	if err != nil {
		return domain.Message{}, WrapError(err, "get message")
	}
	if row == nil {
		return domain.Message{}, NewDBError(ErrNotFound, "get message "+id)
	}
	return row.toDomain()
}

func recordsToMessages(rows []messageRecord) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, NewDBError(err, "decode message "+r.MessageID)
		}
		out = append(out, m)
	}
	return out, nil
}
