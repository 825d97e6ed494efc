package store

import (
	"bytes"
	"fmt"
)

// queryOverhead is the fixed part of every statement size estimate
const queryOverhead = 256

// queryBuffer keeps statement text between calls. It grows on demand and never shrinks.
type queryBuffer struct {
	buf bytes.Buffer
}

// querySize estimates the buffer needed for a statement with the given variable fields,
// doubled to leave room for escaping.
func querySize(fields ...int) int {
	size := 0
	for _, f := range fields {
		size += f
	}
	return size*2 + queryOverhead
}

// ensure makes sure the buffer can hold needed bytes and resets its content.
func (q *queryBuffer) ensure(needed int) (err error) {
	if needed < 0 {
		return fmt.Errorf("%w: negative size %d", ErrAlloc, needed)
	}
	q.buf.Reset()
	if needed <= q.buf.Cap() {
		return nil
	}

	// bytes.Buffer panics with ErrTooLarge if memory can't be allocated
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: grow to %d bytes: %v", ErrAlloc, needed, r)
		}
	}()
	q.buf.Grow(needed)
	return nil
}

// format writes the statement into the buffer and returns its text
func (q *queryBuffer) format(query string, args ...any) string {
	q.buf.Reset()
	fmt.Fprintf(&q.buf, query, args...)
	return q.buf.String()
}

func (q *queryBuffer) capacity() int { return q.buf.Cap() }

func (q *queryBuffer) release() { q.buf = bytes.Buffer{} }
