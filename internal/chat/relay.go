package chat

import (
	"context"
	"errors"
	"io"
)

const relayBufferSize = 32 << 10

// Sink is the caller-facing side of the tee.
type Sink interface {
	// Send forwards one chunk unchanged and makes it visible to the caller.
	Send(chunk []byte) error
	// Abort signals the caller that the stream failed mid-flight.
	Abort(err error)
}

// Relay tees one upstream byte stream to a Sink and an Accumulator. Each chunk
// is forwarded and then decoded before the next read, so accumulated token
// order always matches emission order.
type Relay struct {
	sink    Sink
	acc     *Accumulator
	bufSize int
	relayed int64
}

func NewRelay(sink Sink, acc *Accumulator) *Relay {
	return &Relay{sink: sink, acc: acc, bufSize: relayBufferSize}
}

// Relayed is the number of bytes forwarded to the sink.
func (r *Relay) Relayed() int64 { return r.relayed }

// Run consumes src until EOF. A read or forward failure aborts the sink and is
// returned as a *StreamFatalError.
func (r *Relay) Run(ctx context.Context, src io.Reader) error {
	buf := make([]byte, r.bufSize)
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if err := r.sink.Send(chunk); err != nil {
				return r.fail(err)
			}
			r.relayed += int64(n)
			r.acc.Feed(chunk)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				r.acc.Flush()
				return nil
			}
			return r.fail(readErr)
		}
	}
}

func (r *Relay) fail(err error) error {
	r.sink.Abort(err)
	return &StreamFatalError{Err: err}
}
