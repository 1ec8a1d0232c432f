package feed

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vedran77/klasa/internal/domain"
)

func TestDecodeNotification_InsertWithAttachment(t *testing.T) {
	payload := `{
		"op": "INSERT",
		"record": {
			"id": "6f1c2a9e-9b1d-4a56-8a07-3a12cf40d111",
			"sender_id": "0d2f8a33-72f1-49f8-b711-55f1be1be222",
			"receiver_id": "c1a4de87-1a25-4b61-9b52-91bd1a7cc333",
			"student_id": "f6b3f0cd-4c11-4f80-9e9e-07e4c2d1e444",
			"body": "domaća zadaća",
			"kind": "file",
			"file_url": "https://files.example.com/zadaca.pdf",
			"file_name": "zadaca.pdf",
			"file_size": 20480,
			"file_type": "application/pdf",
			"sent_at": "2026-08-30T09:15:00Z",
			"is_read": false
		}
	}`

	evt, err := decodeNotification([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, EventInserted, evt.Type)

	msg := evt.Message
	require.Equal(t, uuid.MustParse("6f1c2a9e-9b1d-4a56-8a07-3a12cf40d111"), msg.ID)
	require.Equal(t, "domaća zadaća", msg.Body)
	require.Equal(t, domain.KindFile, msg.Kind)
	require.Equal(t, domain.StateConfirmed, msg.State)
	require.NotNil(t, msg.StudentID)
	require.False(t, msg.IsRead)
	require.Equal(t, "2026-08-30T09:15:00Z", msg.SentAt.Format("2006-01-02T15:04:05Z07:00"))

	require.NotNil(t, msg.Attachment)
	require.Equal(t, "https://files.example.com/zadaca.pdf", msg.Attachment.URL)
	require.Equal(t, "zadaca.pdf", msg.Attachment.Name)
	require.Equal(t, int64(20480), msg.Attachment.SizeBytes)
	require.Equal(t, "application/pdf", msg.Attachment.MimeType)
}

func TestDecodeNotification_TextWithoutAttachment(t *testing.T) {
	payload := `{
		"op": "UPDATE",
		"record": {
			"id": "6f1c2a9e-9b1d-4a56-8a07-3a12cf40d111",
			"sender_id": "0d2f8a33-72f1-49f8-b711-55f1be1be222",
			"receiver_id": "c1a4de87-1a25-4b61-9b52-91bd1a7cc333",
			"body": "pročitano",
			"kind": "text",
			"sent_at": "2026-08-30T09:15:00Z",
			"is_read": true
		}
	}`

	evt, err := decodeNotification([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, EventUpdated, evt.Type)
	require.Nil(t, evt.Message.Attachment)
	require.Nil(t, evt.Message.StudentID)
	require.True(t, evt.Message.IsRead)
}

func TestDecodeNotification_DeleteMarksState(t *testing.T) {
	payload := `{
		"op": "DELETE",
		"record": {
			"id": "6f1c2a9e-9b1d-4a56-8a07-3a12cf40d111",
			"sender_id": "0d2f8a33-72f1-49f8-b711-55f1be1be222",
			"receiver_id": "c1a4de87-1a25-4b61-9b52-91bd1a7cc333",
			"body": "obrisano",
			"kind": "text",
			"sent_at": "2026-08-30T09:15:00Z",
			"is_read": false
		}
	}`

	evt, err := decodeNotification([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, EventDeleted, evt.Type)
	require.Equal(t, domain.StateDeleted, evt.Message.State)
}

func TestDecodeNotification_Rejects(t *testing.T) {
	_, err := decodeNotification([]byte(`not json`))
	require.Error(t, err)

	_, err = decodeNotification([]byte(`{"op":"TRUNCATE","record":{}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "TRUNCATE")
}
