package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const readBufferSize = 32 * 1024

// Decode reads r until EOF, emitting each record as soon as the line that
// carries it is complete. A read error or a cancelled ctx ends decoding
// without flushing the trailing fragment; EOF flushes it.
func Decode(ctx context.Context, r io.Reader, emit EmitFunc, opts ...Option) (Stats, error) {
	p := NewParser(emit, opts...)
	buf := make([]byte, readBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return p.Stats(), err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := p.Write(buf[:n]); werr != nil {
				return p.Stats(), werr
			}
		}

		if errors.Is(err, io.EOF) {
			cerr := p.Close()
			return p.Stats(), cerr
		}
		if err != nil {
			return p.Stats(), fmt.Errorf("read stream: %w", err)
		}
	}
}
