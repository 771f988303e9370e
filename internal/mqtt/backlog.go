package mqtt

// backlog is a bounded FIFO. When it is full, adding drops the oldest entry.
// Not safe for concurrent use.
type backlog[T any] struct {
	items   []T
	limit   int
	dropped int // entries lost since the last take
}

func newBacklog[T any](limit int) *backlog[T] {
	if limit < 1 {
		limit = 1
	}
	return &backlog[T]{items: make([]T, 0, limit), limit: limit}
}

// add appends v and reports whether an older entry made room for it.
func (b *backlog[T]) add(v T) bool {
	if len(b.items) < b.limit {
		b.items = append(b.items, v)
		return false
	}

	copy(b.items, b.items[1:])
	b.items[len(b.items)-1] = v
	b.dropped++

	return true
}

// requeue puts items back ahead of anything added since they were taken.
// If the result is over the limit the oldest entries go.
func (b *backlog[T]) requeue(items []T) {
	merged := make([]T, 0, len(items)+len(b.items))
	merged = append(merged, items...)
	merged = append(merged, b.items...)

	if over := len(merged) - b.limit; over > 0 {
		merged = merged[over:]
		b.dropped += over
	}

	b.items = merged
}

// take empties the backlog. It returns the entries oldest first and how many
// were dropped since the previous take.
func (b *backlog[T]) take() ([]T, int) {
	if len(b.items) == 0 && b.dropped == 0 {
		return nil, 0
	}

	items, dropped := b.items, b.dropped
	if len(items) == 0 {
		items = nil
	}
	b.items = make([]T, 0, b.limit)
	b.dropped = 0

	return items, dropped
}

func (b *backlog[T]) size() int {
	return len(b.items)
}
