package conversation

import (
	"github.com/deepgram/chatrelay/internal/chunk"
)

// Reduce folds one stream chunk into the assistant message being assembled
// and the conversation's session id, returning the new values of both.
//
//   - Token appends to the content and marks the message streaming.
//   - Answer replaces the content and completes the message.
//   - Final captures its session id. Its answer is used only when nothing
//     has been accumulated yet, so streamed tokens are never overwritten.
//   - SessionID captures the session id.
//   - Status "complete" completes the message; "processing" marks it streaming.
//   - Anything else leaves both unchanged.
//
// Reduce is pure. Re-applying a control chunk that is already reflected in
// the message yields the same message.
func Reduce(msg Message, sessionID string, c chunk.Chunk) (Message, string) {
	switch v := c.(type) {
	case chunk.Token:
		msg.Content += v.Text
		msg.IsStreaming = true
		msg.IsComplete = false

	case chunk.Answer:
		msg.Content = v.Text
		msg.IsStreaming = false
		msg.IsComplete = true

	case chunk.Final:
		if v.SessionID != "" {
			sessionID = v.SessionID
		}
		if msg.Content == "" && v.Answer != "" {
			msg.Content = v.Answer
		}

	case chunk.SessionID:
		sessionID = v.ID

	case chunk.Status:
		switch v.State {
		case chunk.StatusComplete:
			msg.IsStreaming = false
			msg.IsComplete = true
		case chunk.StatusProcessing:
			msg.IsStreaming = true
		}
	}

	return msg, sessionID
}
