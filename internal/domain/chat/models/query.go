package models

// QueryRequest is one conversational turn as the browser sends it to the relay
// and as the relay forwards it upstream. SessionID is omitted until the
// upstream has issued one.
type QueryRequest struct {
	Question       string `json:"question" validate:"required"`
	CollectionName string `json:"collection_name" validate:"required"`
	SessionID      string `json:"session_id,omitempty"`
}
