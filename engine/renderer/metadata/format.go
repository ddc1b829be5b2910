package metadata

import "fmt"

/** @brief Pixel formats understood by every backend. */
type Format uint32

const (
	FormatUnknown Format = iota
	FormatR32Float
	FormatRG32Float
	FormatRGBA32Float
	FormatRGBA16Float
	FormatRGBA8Unorm
	FormatR32Uint
	FormatD32Float
)

// Channels returns the number of components stored per texel.
func (f Format) Channels() uint32 {
	switch f {
	case FormatR32Float, FormatR32Uint, FormatD32Float:
		return 1
	case FormatRG32Float:
		return 2
	case FormatRGBA32Float, FormatRGBA16Float, FormatRGBA8Unorm:
		return 4
	default:
		return 0
	}
}

// BytesPerTexel is the packed size of one texel on hardware backends.
func (f Format) BytesPerTexel() uint32 {
	switch f {
	case FormatR32Float, FormatR32Uint, FormatD32Float, FormatRGBA8Unorm:
		return 4
	case FormatRG32Float, FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float
}

func (f Format) String() string {
	switch f {
	case FormatR32Float:
		return "R32_FLOAT"
	case FormatRG32Float:
		return "RG32_FLOAT"
	case FormatRGBA32Float:
		return "RGBA32_FLOAT"
	case FormatRGBA16Float:
		return "RGBA16_FLOAT"
	case FormatRGBA8Unorm:
		return "RGBA8_UNORM"
	case FormatR32Uint:
		return "R32_UINT"
	case FormatD32Float:
		return "D32_FLOAT"
	default:
		return fmt.Sprintf("FORMAT(%d)", uint32(f))
	}
}
