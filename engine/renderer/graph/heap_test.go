package graph

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

var errDeviceLost = errors.New("device lost")

// failingHeapDevice refuses to create heaps.
type failingHeapDevice struct {
	*soft.Device
}

func (d *failingHeapDevice) CreateHeap(metadata.HeapDesc) (renderer.Heap, error) {
	return nil, errDeviceLost
}

func newAllocator(granularity, minBlock, maxMemory uint64) *HeapAllocator {
	return NewHeapAllocator(soft.NewDevice(), HeapAllocatorConfig{
		Granularity:  granularity,
		MinBlockSize: minBlock,
		MaxMemory:    maxMemory,
	})
}

func TestHeapAllocatorFirstFit(t *testing.T) {
	a := newAllocator(4096, 64, 0)

	first, err := a.Allocate(1000, 256)
	require.NoError(t, err)
	second, err := a.Allocate(1000, 256)
	require.NoError(t, err)

	assert.Equal(t, HeapLocation{HeapIndex: 0, Offset: 0, Size: 1000}, first)
	assert.Equal(t, uint64(1024), second.Offset)
	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(0, first.Offset))
	third, err := a.Allocate(512, 256)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), third.Offset, "first fit reuses the freed block")
	require.NoError(t, a.Validate())
}

func TestHeapAllocatorAbsorbsSmallRemainder(t *testing.T) {
	a := newAllocator(4096, 256, 0)

	loc, err := a.Allocate(4000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), loc.Size, "a 96 byte remainder is below the minimum block size")
	assert.Len(t, a.Entry(0).Blocks, 1)
	require.NoError(t, a.Validate())
}

func TestHeapAllocatorNewHeapSizing(t *testing.T) {
	a := newAllocator(4096, 64, 0)

	_, err := a.Allocate(4000, 1)
	require.NoError(t, err)
	big, err := a.Allocate(10000, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, big.HeapIndex)
	assert.Equal(t, 2, a.HeapCount())
	assert.Equal(t, uint64(12288), a.Entry(1).Size)
	assert.Equal(t, uint64(12288), a.Heap(1).Size())
}

func TestHeapAllocatorCoalesces(t *testing.T) {
	a := newAllocator(4096, 64, 0)
	var locs []HeapLocation
	for i := 0; i < 4; i++ {
		loc, err := a.Allocate(1024, 1024)
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	require.Len(t, a.Entry(0).Blocks, 4)

	for _, i := range []int{1, 3, 2, 0} {
		require.NoError(t, a.Free(0, locs[i].Offset))
		require.NoError(t, a.Validate())
	}
	assert.Equal(t, []HeapBlock{{Offset: 0, Size: 4096, Free: true}}, a.Entry(0).Blocks)
}

func TestHeapAllocatorErrors(t *testing.T) {
	a := newAllocator(4096, 64, 4096)
	_, err := a.Allocate(4096, 1)
	require.NoError(t, err)

	_, err = a.Allocate(16, 1)
	assert.ErrorIs(t, err, ErrHeapExhausted)

	assert.ErrorIs(t, a.Free(0, 8), ErrInvalidFree)
	assert.ErrorIs(t, a.Free(3, 0), ErrInvalidFree)
	require.NoError(t, a.Free(0, 0))
	assert.ErrorIs(t, a.Free(0, 0), ErrInvalidFree)

	_, err = a.Allocate(0, 1)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	failing := NewHeapAllocator(&failingHeapDevice{soft.NewDevice()}, HeapAllocatorConfig{Granularity: 4096})
	_, err = failing.Allocate(16, 1)
	assert.ErrorIs(t, err, errDeviceLost)
}

func TestHeapInvariantUnderRandomTraffic(t *testing.T) {
	a := newAllocator(1<<16, 128, 0)
	rng := rand.New(rand.NewSource(7))
	alignments := []uint64{1, 64, 256, 4096}

	var live []HeapLocation
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			require.NoError(t, a.Free(live[j].HeapIndex, live[j].Offset))
			live = append(live[:j], live[j+1:]...)
		} else {
			size := uint64(rng.Intn(20000) + 1)
			align := alignments[rng.Intn(len(alignments))]
			loc, err := a.Allocate(size, align)
			require.NoError(t, err)
			assert.Zero(t, loc.Offset%align)
			assert.GreaterOrEqual(t, loc.Size, size)
			live = append(live, loc)
		}
		require.NoError(t, a.Validate(), "iteration %d", i)
	}

	// live allocations never overlap
	for i := range live {
		for j := i + 1; j < len(live); j++ {
			if live[i].HeapIndex != live[j].HeapIndex {
				continue
			}
			overlap := live[i].Offset < live[j].Offset+live[j].Size && live[j].Offset < live[i].Offset+live[i].Size
			assert.False(t, overlap, "allocations %d and %d overlap", i, j)
		}
	}
}
