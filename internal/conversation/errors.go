package conversation

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyQuestion        = errors.New("question is empty")
	ErrInvalidReaction      = errors.New("reaction must be like or dislike")
)
