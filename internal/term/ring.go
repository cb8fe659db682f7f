package term

// ringBuffer keeps the most recent cap bytes of session output for replay to
// late-attaching consumers. Oldest bytes are discarded once the cap is
// exceeded. Not safe for concurrent use; callers hold the session lock.
type ringBuffer struct {
	max int
	buf []byte
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max, buf: make([]byte, 0, min(max, 16*1024))}
}

func (r *ringBuffer) Write(p []byte) {
	if len(p) >= r.max {
		r.buf = append(r.buf[:0], p[len(p)-r.max:]...)
		return
	}
	r.buf = append(r.buf, p...)
	if excess := len(r.buf) - r.max; excess > 0 {
		r.buf = append(r.buf[:0], r.buf[excess:]...)
	}
}

func (r *ringBuffer) Len() int {
	return len(r.buf)
}

// Bytes returns a copy; the underlying storage keeps mutating under the
// session lock after the caller releases it.
func (r *ringBuffer) Bytes() []byte {
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}
