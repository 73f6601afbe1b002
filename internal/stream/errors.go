package stream

import "errors"

var (
	// ErrParserClosed is returned by Write after Close
	ErrParserClosed = errors.New("stream: write to closed parser")
)
