package realtime

const defaultQueueSize = 256

// outQueue is a fixed-capacity FIFO ring. When full, push evicts the oldest
// frame. Not safe for concurrent use; Session guards it.
type outQueue struct {
	buf  []Frame
	head int
	size int
}

func newOutQueue(capacity int) *outQueue {
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	return &outQueue{buf: make([]Frame, capacity)}
}

// push appends f and reports whether an older frame was evicted.
func (q *outQueue) push(f Frame) (evicted bool) {
	if q.size == len(q.buf) {
		q.buf[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		evicted = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	return evicted
}

func (q *outQueue) pop() (Frame, bool) {
	if q.size == 0 {
		return Frame{}, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return f, true
}

func (q *outQueue) len() int {
	return q.size
}

func (q *outQueue) reset() {
	clear(q.buf)
	q.head, q.size = 0, 0
}
