// Package chunk models the records an upstream conversational stream emits.
//
// Each record is one JSON object. Its shape is matched against the known
// variants in a fixed order and the first match wins:
//
//	{"token": "..."}                                  Token
//	{"answer": "..."}                                 Answer
//	{"final": {"session_id": "...", "answer": "..."}} Final
//	{"session_id": "..."}                             SessionID
//	{"status": "complete" | "processing"}             Status
//
// Anything else decodes to Unrecognized and is ignored by consumers.
package chunk

import (
	"encoding/json"
)

// Kind names a chunk variant, mostly for logging
type Kind string

const (
	KindToken        Kind = "token"
	KindAnswer       Kind = "answer"
	KindFinal        Kind = "final"
	KindSessionID    Kind = "session_id"
	KindStatus       Kind = "status"
	KindUnrecognized Kind = "unrecognized"
)

// StatusState is the value carried by a status control record
type StatusState string

const (
	StatusComplete   StatusState = "complete"
	StatusProcessing StatusState = "processing"
)

// Chunk is one decoded stream record. The concrete type is one of Token,
// Answer, Final, SessionID, Status or Unrecognized.
type Chunk interface {
	Kind() Kind
}

// Token is one increment of assistant text
type Token struct {
	Text string
}

// Answer is a complete, non-incremental answer
type Answer struct {
	Text string
}

// Final is end-of-turn metadata. Either field may be empty.
type Final struct {
	SessionID string
	Answer    string
}

// SessionID carries the upstream conversation session
type SessionID struct {
	ID string
}

// Status is a control signal with no payload
type Status struct {
	State StatusState
}

// Unrecognized holds a record that matched no known variant
type Unrecognized struct {
	Raw json.RawMessage
}

func (Token) Kind() Kind        { return KindToken }
func (Answer) Kind() Kind       { return KindAnswer }
func (Final) Kind() Kind        { return KindFinal }
func (SessionID) Kind() Kind    { return KindSessionID }
func (Status) Kind() Kind       { return KindStatus }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

type matcher func(fields map[string]json.RawMessage) (Chunk, bool)

// matchers are tried in precedence order
var matchers = []matcher{
	matchToken,
	matchAnswer,
	matchFinal,
	matchSessionID,
	matchStatus,
}

// Decode matches a single JSON record against the known variants. It never
// fails: records that are not objects, or whose fields have unexpected types,
// come back as Unrecognized.
func Decode(raw []byte) Chunk {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Unrecognized{Raw: append(json.RawMessage(nil), raw...)}
	}

	for _, match := range matchers {
		if c, ok := match(fields); ok {
			return c
		}
	}

	return Unrecognized{Raw: append(json.RawMessage(nil), raw...)}
}

// nonEmptyString reads fields[key] as a string; absent, null, non-string and
// empty values all report false.
func nonEmptyString(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

func matchToken(fields map[string]json.RawMessage) (Chunk, bool) {
	s, ok := nonEmptyString(fields, "token")
	if !ok {
		return nil, false
	}
	return Token{Text: s}, true
}

func matchAnswer(fields map[string]json.RawMessage) (Chunk, bool) {
	s, ok := nonEmptyString(fields, "answer")
	if !ok {
		return nil, false
	}
	return Answer{Text: s}, true
}

func matchFinal(fields map[string]json.RawMessage) (Chunk, bool) {
	raw, ok := fields["final"]
	if !ok {
		return nil, false
	}

	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil || inner == nil {
		return nil, false
	}

	f := Final{}
	f.SessionID, _ = nonEmptyString(inner, "session_id")
	f.Answer, _ = nonEmptyString(inner, "answer")
	return f, true
}

func matchSessionID(fields map[string]json.RawMessage) (Chunk, bool) {
	s, ok := nonEmptyString(fields, "session_id")
	if !ok {
		return nil, false
	}
	return SessionID{ID: s}, true
}

func matchStatus(fields map[string]json.RawMessage) (Chunk, bool) {
	s, ok := nonEmptyString(fields, "status")
	if !ok {
		return nil, false
	}

	switch state := StatusState(s); state {
	case StatusComplete, StatusProcessing:
		return Status{State: state}, true
	default:
		return nil, false
	}
}
