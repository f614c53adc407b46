package framebuf

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-data/lookout/internal/frame"
)

var testShape = frame.Shape{Width: 4, Height: 3, Channels: 3}

func testFrame(seq byte) frame.Frame {
	pixels := make([]byte, testShape.Size())
	for i := range pixels {
		pixels[i] = seq
	}
	return frame.Frame{
		Pixels:   pixels,
		Width:    testShape.Width,
		Height:   testShape.Height,
		Channels: testShape.Channels,
		Captured: time.Unix(int64(seq), 0),
	}
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	t.Parallel()

	_, err := New(0, testShape)
	assert.Error(t, err)

	_, err = New(-5, testShape)
	assert.Error(t, err)
}

func TestRing_FillToCapacityThenPushFails(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{1, 2, 3, 150} {
		capacity := capacity
		t.Run(fmt.Sprintf("capacity_%d", capacity), func(t *testing.T) {
			t.Parallel()

			r, err := New(capacity, testShape)
			require.NoError(t, err)

			for i := 0; i < capacity; i++ {
				ok, err := r.Push(testFrame(byte(i)))
				require.NoError(t, err)
				require.True(t, ok, "push %d of %d should succeed", i+1, capacity)
			}
			require.Equal(t, capacity, r.Len())

			ok, err := r.Push(testFrame(99))
			require.NoError(t, err)
			assert.False(t, ok, "push into a full buffer must return false")

			// One pop frees exactly one slot.
			_, popped := r.Pop()
			require.True(t, popped)
			ok, err = r.Push(testFrame(100))
			require.NoError(t, err)
			assert.True(t, ok, "push after a pop should succeed")
		})
	}
}

func TestRing_PopEmptyReturnsZeroFrame(t *testing.T) {
	t.Parallel()

	r, err := New(3, testShape)
	require.NoError(t, err)

	f, ok := r.Pop()
	assert.False(t, ok)
	assert.True(t, f.Empty())
	assert.True(t, r.Empty())
	assert.Equal(t, 0, r.Len())
}

func TestRing_FIFOOrder(t *testing.T) {
	t.Parallel()

	r, err := New(5, testShape)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ok, err := r.Push(testFrame(byte(i)))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < 5; i++ {
		f, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, byte(i), f.Pixels[0], "frames must come out in push order")
	}
	assert.True(t, r.Empty())
}

func TestRing_WrapAround(t *testing.T) {
	t.Parallel()

	r, err := New(2, testShape)
	require.NoError(t, err)

	// Cycle the indices well past the slot count.
	for i := 0; i < 20; i++ {
		ok, err := r.Push(testFrame(byte(i)))
		require.NoError(t, err)
		require.True(t, ok)

		f, popped := r.Pop()
		require.True(t, popped)
		assert.Equal(t, byte(i), f.Pixels[0])
	}
	assert.True(t, r.Empty())
}

func TestRing_ShapeMismatch(t *testing.T) {
	t.Parallel()

	r, err := New(3, testShape)
	require.NoError(t, err)

	wrong := testFrame(1)
	wrong.Width = 8

	ok, err := r.Push(wrong)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Equal(t, 0, r.Len(), "a rejected frame must not occupy a slot")
}

func TestRing_PopClearsSlot(t *testing.T) {
	t.Parallel()

	r, err := New(1, testShape)
	require.NoError(t, err)

	ok, err := r.Push(testFrame(7))
	require.NoError(t, err)
	require.True(t, ok)

	_, popped := r.Pop()
	require.True(t, popped)

	// The consumed slot must not retain the pixel buffer.
	assert.True(t, r.slots[0].Empty())
}

func TestRing_ConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 2000
	r, err := New(8, testShape)
	require.NoError(t, err)

	done := make(chan []byte)
	go func() {
		var got []byte
		for len(got) < total {
			if f, ok := r.Pop(); ok {
				got = append(got, f.Pixels[0])
			}
		}
		done <- got
	}()

	for i := 0; i < total; i++ {
		f := testFrame(byte(i % 251))
		for {
			ok, err := r.Push(f)
			if err != nil {
				t.Errorf("unexpected push error: %v", err)
				return
			}
			if ok {
				break
			}
		}
	}

	got := <-done
	require.Len(t, got, total)
	for i, b := range got {
		require.Equal(t, byte(i%251), b, "frame %d out of order", i)
	}
}
