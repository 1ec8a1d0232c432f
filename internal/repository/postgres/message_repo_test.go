package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/klasa/internal/domain"
	"github.com/vedran77/klasa/internal/errs"
)

func newMockRepo(t *testing.T) (*MessageRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewMessageRepo(mock), mock
}

func TestMessageRepo_Create(t *testing.T) {
	repo, mock := newMockRepo(t)

	senderID, receiverID := uuid.New(), uuid.New()
	wantID := uuid.New()
	wantSentAt := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(senderID, receiverID, pgxmock.AnyArg(), "dobar dan", domain.KindText,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "sent_at"}).AddRow(wantID, wantSentAt))

	msg, err := repo.Create(context.Background(), domain.Draft{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       "dobar dan",
		Kind:       domain.KindText,
	})
	require.NoError(t, err)
	require.Equal(t, wantID, msg.ID)
	require.Equal(t, wantSentAt, msg.SentAt)
	require.Equal(t, domain.StateConfirmed, msg.State)
	require.Nil(t, msg.Attachment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Create_ConstraintViolation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23514", Message: "messages_no_self_check"})

	_, err := repo.Create(context.Background(), domain.Draft{
		SenderID:   uuid.New(),
		ReceiverID: uuid.New(),
		Body:       "x",
		Kind:       domain.KindText,
	})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Create_ConnectionDropIsTransient(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	_, err := repo.Create(context.Background(), domain.Draft{
		SenderID:   uuid.New(),
		ReceiverID: uuid.New(),
		Body:       "x",
		Kind:       domain.KindText,
	})
	require.ErrorIs(t, err, errs.ErrTransient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_MarkRead_WithPeer(t *testing.T) {
	repo, mock := newMockRepo(t)

	receiverID, senderID := uuid.New(), uuid.New()
	mock.ExpectExec(`UPDATE messages SET is_read = true WHERE receiver_id = \$1 AND sender_id = \$2`).
		WithArgs(receiverID, senderID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	updated, err := repo.MarkRead(context.Background(), receiverID, senderID)
	require.NoError(t, err)
	require.Equal(t, int64(4), updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_MarkRead_AllPeers(t *testing.T) {
	repo, mock := newMockRepo(t)

	receiverID := uuid.New()
	mock.ExpectExec(`UPDATE messages SET is_read = true WHERE receiver_id = \$1 AND is_read = false`).
		WithArgs(receiverID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 9))

	updated, err := repo.MarkRead(context.Background(), receiverID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, int64(9), updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Delete_Owned(t *testing.T) {
	repo, mock := newMockRepo(t)

	id, authorID := uuid.New(), uuid.New()
	mock.ExpectExec(`DELETE FROM messages WHERE id = \$1 AND sender_id = \$2`).
		WithArgs(id, authorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, repo.Delete(context.Background(), id, authorID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Delete_NotAuthor(t *testing.T) {
	repo, mock := newMockRepo(t)

	id, authorID := uuid.New(), uuid.New()
	mock.ExpectExec(`DELETE FROM messages WHERE id = \$1 AND sender_id = \$2`).
		WithArgs(id, authorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Delete(context.Background(), id, authorID)
	require.ErrorIs(t, err, errs.ErrPermission)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Delete_Missing(t *testing.T) {
	repo, mock := newMockRepo(t)

	id, authorID := uuid.New(), uuid.New()
	mock.ExpectExec(`DELETE FROM messages WHERE id = \$1 AND sender_id = \$2`).
		WithArgs(id, authorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.Delete(context.Background(), id, authorID)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func messageRow(rows *pgxmock.Rows, id uuid.UUID, sender, receiver uuid.UUID, body string, sentAt time.Time) *pgxmock.Rows {
	return rows.AddRow(
		id, sender, receiver, (*uuid.UUID)(nil), body, domain.KindText,
		(*string)(nil), (*string)(nil), (*int64)(nil), (*string)(nil), sentAt, false,
	)
}

func TestMessageRepo_List_ReversesToChronological(t *testing.T) {
	repo, mock := newMockRepo(t)

	alice, bob := uuid.New(), uuid.New()
	key := domain.NewConversationKey(alice, bob)
	now := time.Now().UTC()

	cols := []string{"id", "sender_id", "receiver_id", "student_id", "body", "kind",
		"file_url", "file_name", "file_size", "file_type", "sent_at", "is_read"}

	// Query returns newest first; callers get oldest first.
	rows := pgxmock.NewRows(cols)
	rows = messageRow(rows, uuid.New(), alice, bob, "treća", now)
	rows = messageRow(rows, uuid.New(), bob, alice, "druga", now.Add(-time.Minute))
	rows = messageRow(rows, uuid.New(), alice, bob, "prva", now.Add(-2*time.Minute))

	mock.ExpectQuery(`SELECT (.+) FROM messages`).
		WithArgs(key.A, key.B).
		WillReturnRows(rows)

	msgs, err := repo.List(context.Background(), key, time.Time{}, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "prva", msgs[0].Body)
	require.Equal(t, "druga", msgs[1].Body)
	require.Equal(t, "treća", msgs[2].Body)
	require.Equal(t, domain.StateConfirmed, msgs[0].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_List_BeforeCursor(t *testing.T) {
	repo, mock := newMockRepo(t)

	alice, bob := uuid.New(), uuid.New()
	key := domain.NewConversationKey(alice, bob)
	before := time.Now().UTC().Add(-time.Hour)

	cols := []string{"id", "sender_id", "receiver_id", "student_id", "body", "kind",
		"file_url", "file_name", "file_size", "file_type", "sent_at", "is_read"}

	mock.ExpectQuery(`SELECT (.+) FROM messages(.+)sent_at < \$3`).
		WithArgs(key.A, key.B, before).
		WillReturnRows(pgxmock.NewRows(cols))

	msgs, err := repo.List(context.Background(), key, before, 20)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_CountUnread(t *testing.T) {
	repo, mock := newMockRepo(t)

	receiverID := uuid.New()
	peer1, peer2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT sender_id, COUNT\(\*\) FROM messages`).
		WithArgs(receiverID).
		WillReturnRows(pgxmock.NewRows([]string{"sender_id", "count"}).
			AddRow(peer1, int64(3)).
			AddRow(peer2, int64(1)))

	counts, err := repo.CountUnread(context.Background(), receiverID)
	require.NoError(t, err)
	require.Equal(t, map[uuid.UUID]int64{peer1: 3, peer2: 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"check violation", &pgconn.PgError{Code: "23514"}, errs.ErrValidation},
		{"bad uuid text", &pgconn.PgError{Code: "22P02"}, errs.ErrValidation},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, errs.ErrPermission},
		{"invalid authorization", &pgconn.PgError{Code: "28000"}, errs.ErrPermission},
		{"connection failure", &pgconn.PgError{Code: "08006"}, errs.ErrTransient},
		{"too many connections", &pgconn.PgError{Code: "53300"}, errs.ErrTransient},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, errs.ErrTransient},
		{"deadline", context.DeadlineExceeded, errs.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}
}

func TestClassify_UnknownCodePassesThrough(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001", Message: "serialization failure"}
	got := classify("op", pgErr)

	var out *pgconn.PgError
	require.True(t, errors.As(got, &out))
	require.False(t, errors.Is(got, errs.ErrValidation))
	require.False(t, errors.Is(got, errs.ErrTransient))
	require.False(t, errors.Is(got, errs.ErrPermission))
}
