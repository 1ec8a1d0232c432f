package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/errs"
)

type MessageRepo struct {
	pool PgxPool
}

func NewMessageRepo(pool PgxPool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

const messageColumns = `id, sender_id, receiver_id, student_id, body, kind,
			file_url, file_name, file_size, file_type, sent_at, is_read`

func (r *MessageRepo) Create(ctx context.Context, draft domain.Draft) (*domain.Message, error) {
	query := `
		INSERT INTO messages (sender_id, receiver_id, student_id, body, kind, file_url, file_name, file_size, file_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, sent_at`

	var url, name, mime *string
	var size *int64
	if draft.Attachment != nil {
		url = &draft.Attachment.URL
		name = &draft.Attachment.Name
		size = &draft.Attachment.SizeBytes
		mime = &draft.Attachment.MimeType
	}

	msg := &domain.Message{
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		StudentID:  draft.StudentID,
		Body:       draft.Body,
		Kind:       draft.Kind,
		Attachment: draft.Attachment,
		State:      domain.StateConfirmed,
	}
	err := r.pool.QueryRow(ctx, query,
		draft.SenderID, draft.ReceiverID, draft.StudentID, draft.Body, draft.Kind,
		url, name, size, mime,
	).Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return nil, classify("create message", err)
	}
	return msg, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, receiverID, senderID uuid.UUID) (int64, error) {
	// Jedan batched update, nikad per-message round trip
	if senderID == uuid.Nil {
		tag, err := r.pool.Exec(ctx,
			`UPDATE messages SET is_read = true WHERE receiver_id = $1 AND is_read = false`,
			receiverID,
		)
		if err != nil {
			return 0, classify("mark all read", err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true WHERE receiver_id = $1 AND sender_id = $2 AND is_read = false`,
		receiverID, senderID,
	)
	if err != nil {
		return 0, classify("mark read", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) Delete(ctx context.Context, id, authorID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE id = $1 AND sender_id = $2`,
		id, authorID,
	)
	if err != nil {
		return classify("delete message", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing deleted: distinguish a missing message from someone else's.
	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return classify("delete message", err)
	}
	if exists {
		return fmt.Errorf("delete message: %w: only the sender can delete", errs.ErrPermission)
	}
	return fmt.Errorf("delete message: %w", errs.ErrNotFound)
}

func (r *MessageRepo) List(ctx context.Context, key domain.ConversationKey, before time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var query string
	var args []any

	if !before.IsZero() {
		query = fmt.Sprintf(`
			SELECT %s
			FROM messages
			WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
				AND sent_at < $3
			ORDER BY sent_at DESC
			LIMIT %d`, messageColumns, limit)
		args = []any{key.A, key.B, before}
	} else {
		query = fmt.Sprintf(`
			SELECT %s
			FROM messages
			WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
			ORDER BY sent_at DESC
			LIMIT %d`, messageColumns, limit)
		args = []any{key.A, key.B}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list messages", err)
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, receiverID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT sender_id, COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = false GROUP BY sender_id`,
		receiverID,
	)
	if err != nil {
		return nil, classify("count unread", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var sender uuid.UUID
		var n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, classify("count unread", err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify("count unread", err)
	}
	return counts, nil
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	var url, name, mime *string
	var size *int64

	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.StudentID, &msg.Body, &msg.Kind,
		&url, &name, &size, &mime, &msg.SentAt, &msg.IsRead,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scan message: %w", errs.ErrNotFound)
	}
	if err != nil {
		return nil, classify("scan message", err)
	}

	if url != nil {
		msg.Attachment = &domain.Attachment{URL: *url}
		if name != nil {
			msg.Attachment.Name = *name
		}
		if size != nil {
			msg.Attachment.SizeBytes = *size
		}
		if mime != nil {
			msg.Attachment.MimeType = *mime
		}
	}
	msg.State = domain.StateConfirmed
	return &msg, nil
}
