package graph

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

var (
	ErrHeapExhausted  = errors.New("heap memory budget exhausted")
	ErrInvalidFree    = errors.New("no allocation at offset")
	ErrHeapCorrupted  = errors.New("heap block list corrupted")
	ErrInvalidRequest = errors.New("invalid allocation request")
)

type HeapBlock struct {
	Offset uint64
	Size   uint64
	Free   bool
}

// HeapEntry is one device heap and its ordered, non-overlapping block list.
type HeapEntry struct {
	Heap   renderer.Heap
	Size   uint64
	Blocks []HeapBlock
}

type HeapLocation struct {
	HeapIndex int
	Offset    uint64
	// Size of the block handed out, which can exceed the request when a small
	// remainder was absorbed.
	Size uint64
}

type HeapAllocatorConfig struct {
	// Minimum size of a new heap; heaps are multiples of it.
	Granularity uint64
	// Free remainders below this size are absorbed into the allocation.
	MinBlockSize uint64
	// Upper bound for the sum of all heap sizes. 0 means unbounded.
	MaxMemory uint64
}

type HeapStats struct {
	Heaps       int
	Capacity    uint64
	Used        uint64
	FreeBlocks  int
	LargestFree uint64
}

/**
 * @brief First-fit allocator over device heaps. Heaps are created on demand and
 * kept until Release.
 */
type HeapAllocator struct {
	device renderer.Device
	config HeapAllocatorConfig
	heaps  []*HeapEntry
}

func NewHeapAllocator(device renderer.Device, config HeapAllocatorConfig) *HeapAllocator {
	core.Assert(config.Granularity > 0, "heap granularity must be non-zero")
	return &HeapAllocator{
		device: device,
		config: config,
	}
}

func (a *HeapAllocator) Allocate(size, alignment uint64) (HeapLocation, error) {
	if size == 0 {
		return HeapLocation{}, fmt.Errorf("%w: zero-sized allocation", ErrInvalidRequest)
	}
	alignment = max(alignment, 1)

	for i, heap := range a.heaps {
		if loc, ok := heap.allocate(size, alignment, a.config.MinBlockSize); ok {
			loc.HeapIndex = i
			return loc, nil
		}
	}

	heapSize := max(math.AlignUp(size, a.config.Granularity), a.config.Granularity)
	if a.config.MaxMemory > 0 && a.capacity()+heapSize > a.config.MaxMemory {
		return HeapLocation{}, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrHeapExhausted, heapSize, a.capacity(), a.config.MaxMemory)
	}

	heap, err := a.device.CreateHeap(metadata.HeapDesc{
		Size:      heapSize,
		DebugName: fmt.Sprintf("graph_heap_%d", len(a.heaps)),
	})
	if err != nil {
		return HeapLocation{}, fmt.Errorf("failed to create heap of %d bytes: %w", heapSize, err)
	}
	entry := &HeapEntry{
		Heap:   heap,
		Size:   heapSize,
		Blocks: []HeapBlock{{Offset: 0, Size: heapSize, Free: true}},
	}
	a.heaps = append(a.heaps, entry)
	core.LogDebug("created graph heap %d (%d bytes)", len(a.heaps)-1, heapSize)

	loc, ok := entry.allocate(size, alignment, a.config.MinBlockSize)
	if !ok {
		return HeapLocation{}, fmt.Errorf("%w: fresh heap cannot hold %d bytes", ErrHeapCorrupted, size)
	}
	loc.HeapIndex = len(a.heaps) - 1
	return loc, nil
}

func (h *HeapEntry) allocate(size, alignment, minBlock uint64) (HeapLocation, bool) {
	for i := 0; i < len(h.Blocks); i++ {
		b := h.Blocks[i]
		if !b.Free {
			continue
		}
		aligned := math.AlignUp(b.Offset, alignment)
		padding := aligned - b.Offset
		if padding+size > b.Size {
			continue
		}

		// keep the alignment padding as its own free block
		if padding > 0 {
			h.Blocks = insertBlock(h.Blocks, i, HeapBlock{Offset: b.Offset, Size: padding, Free: true})
			i++
			b = HeapBlock{Offset: aligned, Size: b.Size - padding, Free: true}
		}

		allocated := size
		remainder := b.Size - size
		if remainder >= minBlock && remainder > 0 {
			h.Blocks[i] = HeapBlock{Offset: aligned, Size: size}
			h.Blocks = insertBlock(h.Blocks, i+1, HeapBlock{Offset: aligned + size, Size: remainder, Free: true})
		} else {
			allocated = b.Size
			h.Blocks[i] = HeapBlock{Offset: aligned, Size: b.Size}
		}
		return HeapLocation{Offset: aligned, Size: allocated}, true
	}
	return HeapLocation{}, false
}

func insertBlock(blocks []HeapBlock, at int, block HeapBlock) []HeapBlock {
	blocks = append(blocks, HeapBlock{})
	copy(blocks[at+1:], blocks[at:])
	blocks[at] = block
	return blocks
}

// Free releases the allocation starting at offset and merges it with free neighbours.
func (a *HeapAllocator) Free(heapIndex int, offset uint64) error {
	if heapIndex < 0 || heapIndex >= len(a.heaps) {
		return fmt.Errorf("%w: heap %d does not exist", ErrInvalidFree, heapIndex)
	}
	h := a.heaps[heapIndex]
	for i := range h.Blocks {
		if h.Blocks[i].Offset != offset {
			continue
		}
		if h.Blocks[i].Free {
			return fmt.Errorf("%w: block %d in heap %d is already free", ErrInvalidFree, offset, heapIndex)
		}
		h.Blocks[i].Free = true

		if i+1 < len(h.Blocks) && h.Blocks[i+1].Free {
			h.Blocks[i].Size += h.Blocks[i+1].Size
			h.Blocks = append(h.Blocks[:i+1], h.Blocks[i+2:]...)
		}
		if i > 0 && h.Blocks[i-1].Free {
			h.Blocks[i-1].Size += h.Blocks[i].Size
			h.Blocks = append(h.Blocks[:i], h.Blocks[i+1:]...)
		}
		return nil
	}
	return fmt.Errorf("%w %d in heap %d", ErrInvalidFree, offset, heapIndex)
}

// Validate checks that every heap's blocks are sorted, contiguous, cover the
// heap exactly and that no two free blocks are adjacent.
func (a *HeapAllocator) Validate() error {
	for hi, h := range a.heaps {
		next := uint64(0)
		for i, b := range h.Blocks {
			if b.Offset != next {
				return fmt.Errorf("%w: heap %d block %d starts at %d, expected %d", ErrHeapCorrupted, hi, i, b.Offset, next)
			}
			if b.Size == 0 {
				return fmt.Errorf("%w: heap %d block %d is empty", ErrHeapCorrupted, hi, i)
			}
			if i > 0 && b.Free && h.Blocks[i-1].Free {
				return fmt.Errorf("%w: heap %d blocks %d and %d are both free", ErrHeapCorrupted, hi, i-1, i)
			}
			next += b.Size
		}
		if next != h.Size {
			return fmt.Errorf("%w: heap %d blocks cover %d of %d bytes", ErrHeapCorrupted, hi, next, h.Size)
		}
	}
	return nil
}

func (a *HeapAllocator) Heap(index int) renderer.Heap {
	core.Assert(index >= 0 && index < len(a.heaps), "heap index %d out of range", index)
	return a.heaps[index].Heap
}

func (a *HeapAllocator) Entry(index int) *HeapEntry {
	core.Assert(index >= 0 && index < len(a.heaps), "heap index %d out of range", index)
	return a.heaps[index]
}

func (a *HeapAllocator) HeapCount() int {
	return len(a.heaps)
}

func (a *HeapAllocator) capacity() uint64 {
	total := uint64(0)
	for _, h := range a.heaps {
		total += h.Size
	}
	return total
}

func (a *HeapAllocator) Stats() HeapStats {
	s := HeapStats{Heaps: len(a.heaps)}
	for _, h := range a.heaps {
		s.Capacity += h.Size
		for _, b := range h.Blocks {
			if b.Free {
				s.FreeBlocks++
				s.LargestFree = max(s.LargestFree, b.Size)
			} else {
				s.Used += b.Size
			}
		}
	}
	return s
}

// Release destroys every device heap.
func (a *HeapAllocator) Release() {
	for _, h := range a.heaps {
		h.Heap.Destroy()
	}
	a.heaps = nil
}
