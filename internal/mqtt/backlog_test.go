package mqtt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBacklogTakeEmpty(t *testing.T) {
	t.Parallel()

	b := newBacklog[int](4)
	items, dropped := b.take()
	require.Nil(t, items)
	require.Zero(t, dropped)
	require.Zero(t, b.size())
}

func TestBacklogKeepsOrder(t *testing.T) {
	t.Parallel()

	b := newBacklog[int](10)
	for i := 0; i < 5; i++ {
		require.False(t, b.add(i))
	}
	require.Equal(t, 5, b.size())

	items, dropped := b.take()
	require.Equal(t, []int{0, 1, 2, 3, 4}, items)
	require.Zero(t, dropped)
	require.Zero(t, b.size())
}

func TestBacklogOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	b := newBacklog[string](3)
	b.add("a")
	b.add("b")
	b.add("c")
	require.True(t, b.add("d"))
	require.True(t, b.add("e"))

	items, dropped := b.take()
	require.Equal(t, []string{"c", "d", "e"}, items)
	require.Equal(t, 2, dropped)

	b.add("f")
	_, dropped = b.take()
	require.Zero(t, dropped, "take resets the drop count")
}

func TestBacklogRequeueGoesFirst(t *testing.T) {
	t.Parallel()

	b := newBacklog[int](5)
	b.add(1)
	b.add(2)
	taken, _ := b.take()

	b.add(3)
	b.requeue(taken)

	items, dropped := b.take()
	require.Equal(t, []int{1, 2, 3}, items)
	require.Zero(t, dropped)
}

func TestBacklogRequeueTrimsToLimit(t *testing.T) {
	t.Parallel()

	b := newBacklog[int](3)
	b.add(3)
	b.add(4)
	b.requeue([]int{1, 2})

	items, dropped := b.take()
	require.Equal(t, []int{2, 3, 4}, items)
	require.Equal(t, 1, dropped)
}

func TestBacklogMinimumLimit(t *testing.T) {
	t.Parallel()

	b := newBacklog[int](0)
	b.add(1)
	require.True(t, b.add(2))

	items, _ := b.take()
	require.Equal(t, []int{2}, items)
}

func TestBacklogKeepsMessageFields(t *testing.T) {
	t.Parallel()

	b := newBacklog[bufferedMsg](2)
	in := bufferedMsg{topic: TopicSystem, payload: []byte(`{}`), qos: 1, retained: true}
	b.add(in)

	items, _ := b.take()
	require.Equal(t, []bufferedMsg{in}, items)
}
