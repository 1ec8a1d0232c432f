package domain

import "github.com/google/uuid"

// ConversationKey identifies a 1:1 thread as an unordered pair of participants.
// The zero value is not a valid key; use NewConversationKey so the pair is
// stored in canonical order and two keys for the same participants compare equal.
type ConversationKey struct {
	A uuid.UUID
	B uuid.UUID
}

func NewConversationKey(x, y uuid.UUID) ConversationKey {
	// Sortiraj ID-eve da je A < B (kanonski redoslijed)
	if x.String() > y.String() {
		x, y = y, x
	}
	return ConversationKey{A: x, B: y}
}

// Includes reports whether userID is one of the two participants.
func (k ConversationKey) Includes(userID uuid.UUID) bool {
	return k.A == userID || k.B == userID
}

// Other returns the peer of userID, or uuid.Nil if userID is not a participant.
func (k ConversationKey) Other(userID uuid.UUID) uuid.UUID {
	switch userID {
	case k.A:
		return k.B
	case k.B:
		return k.A
	}
	return uuid.Nil
}

// Matches reports whether a message with the given sender and receiver
// belongs to this conversation, in either direction.
func (k ConversationKey) Matches(senderID, receiverID uuid.UUID) bool {
	return (k.A == senderID && k.B == receiverID) || (k.A == receiverID && k.B == senderID)
}

func (k ConversationKey) String() string {
	return k.A.String() + ":" + k.B.String()
}
