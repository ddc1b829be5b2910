package metadata

/**
 * @brief The logical state a resource must be in for a given use. Backends
 * translate a before/after pair into their own barrier.
 */
type ResourceState uint32

const (
	ResourceStateUndefined ResourceState = iota
	ResourceStateShaderRead
	ResourceStateStorageWrite
	ResourceStateRenderTarget
	ResourceStateDepthWrite
	ResourceStateIndirectArgs
	ResourceStateCopySrc
	ResourceStateCopyDst
	ResourceStatePresent
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateUndefined:
		return "undefined"
	case ResourceStateShaderRead:
		return "shader-read"
	case ResourceStateStorageWrite:
		return "storage-write"
	case ResourceStateRenderTarget:
		return "render-target"
	case ResourceStateDepthWrite:
		return "depth-write"
	case ResourceStateIndirectArgs:
		return "indirect-args"
	case ResourceStateCopySrc:
		return "copy-src"
	case ResourceStateCopyDst:
		return "copy-dst"
	case ResourceStatePresent:
		return "present"
	default:
		return "unknown"
	}
}

// IsWrite reports whether the state allows writes.
func (s ResourceState) IsWrite() bool {
	switch s {
	case ResourceStateStorageWrite, ResourceStateRenderTarget, ResourceStateDepthWrite, ResourceStateCopyDst:
		return true
	}
	return false
}
