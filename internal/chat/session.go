package chat

import (
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/insight/internal/llm"
)

// Session is an ordered transcript of user and assistant turns. It is a
// value: appending returns a new Session and leaves the receiver intact.
type Session struct {
	ID         uuid.UUID
	transcript []llm.Message
}

func NewSession() Session {
	return Session{ID: uuid.New()}
}

// Transcript returns a copy of the turns in call order.
func (s Session) Transcript() []llm.Message {
	out := make([]llm.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

func (s Session) Len() int { return len(s.transcript) }

func (s Session) append(turns ...llm.Message) Session {
	next := make([]llm.Message, 0, len(s.transcript)+len(turns))
	next = append(next, s.transcript...)
	next = append(next, turns...)
	return Session{ID: s.ID, transcript: next}
}
