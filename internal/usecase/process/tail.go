package process

import "sync"

// TailLine is one captured line of process output.
type TailLine struct {
	Stream string `json:"stream"` // "stdout" or "stderr"
	Text   string `json:"text"`
}

// lineTail is a thread-safe, fixed-capacity ring of the most recent output
// lines. Older lines are overwritten once the capacity is reached.
type lineTail struct {
	mu      sync.Mutex
	items   []TailLine
	head    int // index of the oldest line
	count   int
	written int64 // total lines ever added (including overwritten)
}

func newLineTail(capacity int) *lineTail {
	if capacity < 1 {
		capacity = 1
	}
	return &lineTail{items: make([]TailLine, capacity)}
}

// Add appends a line, evicting the oldest when full.
func (t *lineTail) Add(stream, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := TailLine{Stream: stream, Text: text}
	if t.count == len(t.items) {
		t.items[t.head] = line
		t.head = (t.head + 1) % len(t.items)
	} else {
		t.items[(t.head+t.count)%len(t.items)] = line
		t.count++
	}
	t.written++
}

// Last returns up to n of the most recent lines, oldest first. n <= 0 returns all.
func (t *lineTail) Last(n int) []TailLine {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > t.count {
		n = t.count
	}
	out := make([]TailLine, n)
	start := t.count - n
	for i := 0; i < n; i++ {
		out[i] = t.items[(t.head+start+i)%len(t.items)]
	}
	return out
}

// Written returns the number of lines ever added.
func (t *lineTail) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}
