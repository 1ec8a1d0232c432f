package validator

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vedran77/klasa/internal/domain"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// String joins the field errors deterministically for logs and wrapped errors.
func (v ValidationErrors) String() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(v))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return strings.Join(parts, "; ")
}

const maxBodyLen = 4000

func ValidateDraft(d domain.Draft) ValidationErrors {
	errs := make(ValidationErrors)

	if d.SenderID == uuid.Nil {
		errs.Add("sender_id", "Sender is required")
	}
	if d.ReceiverID == uuid.Nil {
		errs.Add("receiver_id", "Receiver is required")
	} else if d.ReceiverID == d.SenderID {
		errs.Add("receiver_id", "Cannot message yourself")
	}
	if d.StudentID != nil && *d.StudentID == uuid.Nil {
		errs.Add("student_id", "Student reference is invalid")
	}

	switch d.Kind {
	case domain.KindText:
		if strings.TrimSpace(d.Body) == "" {
			errs.Add("body", "Message text is required")
		}
		if d.Attachment != nil {
			errs.Add("attachment", "Text messages cannot carry an attachment")
		}
	case domain.KindImage, domain.KindFile:
		validateAttachment(d.Attachment, errs)
	default:
		errs.Add("kind", "Kind must be text, image, or file")
	}

	if len(d.Body) > maxBodyLen {
		errs.Add("body", "Message text is too long")
	}

	return errs
}

func validateAttachment(att *domain.Attachment, errs ValidationErrors) {
	if att == nil {
		errs.Add("attachment", "Attachment is required for image and file messages")
		return
	}
	if strings.TrimSpace(att.URL) == "" {
		errs.Add("attachment", "Attachment URL is required")
	}
	if att.Name == "" {
		errs.Add("attachment", "Attachment name is required")
	}
	if att.SizeBytes < 0 {
		errs.Add("attachment", "Attachment size is invalid")
	}
}
