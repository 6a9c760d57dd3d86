package containers

// RingQueue is a FIFO backed by a circular buffer. It grows when full unless
// it was created bounded.
type RingQueue[T any] struct {
	data       []T
	readIndex  int
	writeIndex int
	count      int
	bounded    bool
}

// NewRingQueue creates a queue that doubles its capacity when full.
func NewRingQueue[T any](capacity int) *RingQueue[T] {
	return &RingQueue[T]{data: make([]T, max(capacity, 1))}
}

// NewBoundedRingQueue creates a queue that refuses elements once full.
func NewBoundedRingQueue[T any](capacity int) *RingQueue[T] {
	q := NewRingQueue[T](capacity)
	q.bounded = true
	return q
}

// Enqueue adds an element at the back. It returns false when a bounded queue
// is full.
func (rq *RingQueue[T]) Enqueue(value T) bool {
	if rq.IsFull() {
		if rq.bounded {
			return false
		}
		rq.grow()
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % len(rq.data)
	rq.count++
	return true
}

// Dequeue removes and returns the front element.
func (rq *RingQueue[T]) Dequeue() (T, bool) {
	var zero T
	if rq.IsEmpty() {
		return zero, false
	}
	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = zero
	rq.readIndex = (rq.readIndex + 1) % len(rq.data)
	rq.count--
	return value, true
}

// Peek returns the front element without removing it.
func (rq *RingQueue[T]) Peek() (T, bool) {
	if rq.IsEmpty() {
		var zero T
		return zero, false
	}
	return rq.data[rq.readIndex], true
}

func (rq *RingQueue[T]) Len() int {
	return rq.count
}

func (rq *RingQueue[T]) Cap() int {
	return len(rq.data)
}

func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.count == 0
}

func (rq *RingQueue[T]) IsFull() bool {
	return rq.count == len(rq.data)
}

func (rq *RingQueue[T]) grow() {
	data := make([]T, len(rq.data)*2)
	for i := 0; i < rq.count; i++ {
		data[i] = rq.data[(rq.readIndex+i)%len(rq.data)]
	}
	rq.data = data
	rq.readIndex = 0
	rq.writeIndex = rq.count
}
