package culling

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/prism/engine/renderer"
	"golang.org/x/image/bmp"
)

/**
 * @brief Writes every HZB mip as a grayscale BMP into dir, named
 * hzb_<frame>_mip<n>.bmp. Each level is normalized to its own depth range,
 * so near occluders are bright and empty space is black.
 * The device must support readback.
 */
func DumpHZB(device renderer.Device, hzb renderer.Texture, dir string, frame uint64) ([]string, error) {
	rb, ok := device.(renderer.Readback)
	if !ok {
		return nil, fmt.Errorf("device %q cannot read textures back", device.Name())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	desc := hzb.Desc()
	var files []string
	for mip := uint32(0); mip < desc.Mips(); mip++ {
		data, err := rb.ReadTexture(hzb, mip)
		if err != nil {
			return files, fmt.Errorf("failed to read hzb mip %d: %w", mip, err)
		}
		w, h := desc.MipExtent(mip)
		img := depthImage(data, int(w), int(h))

		path := filepath.Join(dir, fmt.Sprintf("hzb_%d_mip%d.bmp", frame, mip))
		if err := writeBMP(path, img); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

func depthImage(data []float32, w, h int) *image.Gray {
	hi := float32(0)
	for _, v := range data {
		hi = max(hi, v)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(0)
			if hi > 0 {
				v = data[y*w+x] / hi
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v * 255)})
		}
	}
	return img
}

func writeBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
