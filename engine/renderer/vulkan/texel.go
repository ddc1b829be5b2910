package vulkan

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// encodeTexel packs one texel the way the image stores it.
func encodeTexel(f metadata.Format, value [4]float32) ([]byte, error) {
	out := make([]byte, f.BytesPerTexel())
	switch f {
	case metadata.FormatR32Float, metadata.FormatD32Float, metadata.FormatRG32Float, metadata.FormatRGBA32Float:
		for c := 0; c < int(f.Channels()); c++ {
			binary.LittleEndian.PutUint32(out[c*4:], math32.Float32bits(value[c]))
		}
	case metadata.FormatR32Uint:
		binary.LittleEndian.PutUint32(out, uint32(value[0]))
	case metadata.FormatRGBA16Float:
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint16(out[c*2:], floatToHalf(value[c]))
		}
	case metadata.FormatRGBA8Unorm:
		for c := 0; c < 4; c++ {
			out[c] = byte(math32.Floor(clamp01(value[c])*255 + 0.5))
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return out, nil
}

// decodeTexels unpacks tightly packed texels into float32 channels.
func decodeTexels(f metadata.Format, data []byte) ([]float32, error) {
	bpt := int(f.BytesPerTexel())
	if bpt == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	ch := int(f.Channels())
	n := len(data) / bpt
	out := make([]float32, n*ch)
	for i := 0; i < n; i++ {
		texel := data[i*bpt:]
		for c := 0; c < ch; c++ {
			var v float32
			switch f {
			case metadata.FormatR32Uint:
				v = float32(binary.LittleEndian.Uint32(texel))
			case metadata.FormatRGBA16Float:
				v = halfToFloat(binary.LittleEndian.Uint16(texel[c*2:]))
			case metadata.FormatRGBA8Unorm:
				v = float32(texel[c]) / 255
			default:
				v = math32.Float32frombits(binary.LittleEndian.Uint32(texel[c*4:]))
			}
			out[i*ch+c] = v
		}
	}
	return out, nil
}

func clamp01(v float32) float32 {
	return math32.Max(0, math32.Min(1, v))
}

// floatToHalf rounds to nearest even. Values beyond the half range become infinity.
func floatToHalf(f float32) uint16 {
	bits := math32.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff

	switch {
	case bits&0x7fffffff == 0:
		return sign
	case bits>>23&0xff == 0xff:
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp >= 0x1f:
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		mid := uint32(1) << (shift - 1)
		if rem > mid || (rem == mid && half&1 == 1) {
			half++
		}
		return sign | uint16(half)
	}

	half := uint32(exp)<<10 | mant>>13
	rem := mant & 0x1fff
	if rem > 0x1000 || (rem == 0x1000 && half&1 == 1) {
		half++
	}
	return sign | uint16(half)
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0 && mant == 0:
		return math32.Float32frombits(sign)
	case exp == 0:
		// subnormal: normalize
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math32.Float32frombits(sign | e<<23 | mant<<13)
	case exp == 0x1f:
		return math32.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math32.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}
