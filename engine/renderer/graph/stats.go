package graph

import "fmt"

type Stats struct {
	Frame      uint64
	Passes     int
	Textures   int
	Buffers    int
	Persistent int
	// Transient resources sharing memory with an earlier one.
	Aliased       int
	AliasBarriers int
	Transitions   int
	// Bytes the transient resources would need without aliasing.
	RequestedMemory uint64
	// Bytes actually allocated for transient resources.
	TransientMemory uint64
	Heaps           int
	HeapCapacity    uint64
	HeapUsed        uint64
	PlacedResources int
	MemoryProbes    int
}

func (s Stats) String() string {
	saved := float64(0)
	if s.RequestedMemory > 0 {
		saved = 100 * (1 - float64(s.TransientMemory)/float64(s.RequestedMemory))
	}
	return fmt.Sprintf(
		"frame %d: %d passes, %d textures, %d buffers (%d persistent, %d aliased), transient %s of %s requested (%.1f%% saved), %d heaps %s/%s, %d barriers, %d transitions, %d placed",
		s.Frame, s.Passes, s.Textures, s.Buffers, s.Persistent, s.Aliased,
		formatBytes(s.TransientMemory), formatBytes(s.RequestedMemory), saved,
		s.Heaps, formatBytes(s.HeapUsed), formatBytes(s.HeapCapacity),
		s.AliasBarriers, s.Transitions, s.PlacedResources,
	)
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2fKiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// Stats returns the figures gathered by the last Compile.
func (g *RenderGraph) Stats() Stats {
	s := g.stats
	s.PlacedResources = g.placed.len()
	return s
}

func (g *RenderGraph) collectStats() {
	s := Stats{Frame: g.frame, Passes: len(g.passes), MemoryProbes: g.memory.len()}
	for _, r := range g.resources {
		if r.Desc.Kind == ResourceKindTexture {
			s.Textures++
		} else {
			s.Buffers++
		}
		if r.Persistent {
			s.Persistent++
			continue
		}
		if !r.Lifetime.IsValid() {
			continue
		}
		s.RequestedMemory += r.memory.Size
		if r.AliasedFrom != NoAlias {
			s.Aliased++
		}
	}
	for _, loc := range g.transientAllocs {
		s.TransientMemory += loc.Size
	}
	for _, p := range g.passes {
		s.AliasBarriers += len(p.AliasBarriers)
		s.Transitions += len(p.Transitions)
	}
	hs := g.heaps.Stats()
	s.Heaps = hs.Heaps
	s.HeapCapacity = hs.Capacity
	s.HeapUsed = hs.Used
	g.stats = s
}
