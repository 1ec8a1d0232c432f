package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vedran77/klasa/internal/domain"
)

// Listener bridges Postgres LISTEN/NOTIFY into the Hub. A trigger on the
// messages table emits one JSON payload per row change; decoding failures are
// logged and skipped so one bad payload cannot stall the feed.
type Listener struct {
	pool    *pgxpool.Pool
	hub     *Hub
	channel string
	log     *zap.Logger
}

func NewListener(pool *pgxpool.Pool, hub *Hub, channel string, log *zap.Logger) *Listener {
	return &Listener{pool: pool, hub: hub, channel: channel, log: log}
}

// Run listens until ctx is cancelled, re-acquiring the connection after
// transient failures.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("feed listener: connection lost, reconnecting", zap.Error(err))
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	l.log.Info("feed listener: listening", zap.String("channel", l.channel))

	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		evt, err := decodeNotification([]byte(note.Payload))
		if err != nil {
			l.log.Warn("feed listener: bad payload", zap.Error(err))
			continue
		}
		l.hub.Publish(evt)
	}
}

// wireChange mirrors the JSON built by the notify_message_change trigger.
type wireChange struct {
	Op     string      `json:"op"`
	Record wireMessage `json:"record"`
}

type wireMessage struct {
	ID         uuid.UUID  `json:"id"`
	SenderID   uuid.UUID  `json:"sender_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	StudentID  *uuid.UUID `json:"student_id"`
	Body       string     `json:"body"`
	Kind       string     `json:"kind"`
	FileURL    *string    `json:"file_url"`
	FileName   *string    `json:"file_name"`
	FileSize   *int64     `json:"file_size"`
	FileType   *string    `json:"file_type"`
	SentAt     time.Time  `json:"sent_at"`
	IsRead     bool       `json:"is_read"`
}

func decodeNotification(payload []byte) (Event, error) {
	var change wireChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return Event{}, err
	}

	msg := &domain.Message{
		ID:         change.Record.ID,
		SenderID:   change.Record.SenderID,
		ReceiverID: change.Record.ReceiverID,
		StudentID:  change.Record.StudentID,
		Body:       change.Record.Body,
		Kind:       domain.MessageKind(change.Record.Kind),
		SentAt:     change.Record.SentAt,
		IsRead:     change.Record.IsRead,
		State:      domain.StateConfirmed,
	}
	if change.Record.FileURL != nil {
		msg.Attachment = &domain.Attachment{URL: *change.Record.FileURL}
		if change.Record.FileName != nil {
			msg.Attachment.Name = *change.Record.FileName
		}
		if change.Record.FileSize != nil {
			msg.Attachment.SizeBytes = *change.Record.FileSize
		}
		if change.Record.FileType != nil {
			msg.Attachment.MimeType = *change.Record.FileType
		}
	}

	var typ EventType
	switch change.Op {
	case "INSERT":
		typ = EventInserted
	case "UPDATE":
		typ = EventUpdated
	case "DELETE":
		typ = EventDeleted
		msg.State = domain.StateDeleted
	default:
		return Event{}, errUnknownOp(change.Op)
	}

	return Event{Type: typ, Message: msg}, nil
}

type errUnknownOp string

func (e errUnknownOp) Error() string { return "unknown change op: " + string(e) }
