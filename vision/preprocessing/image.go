package preprocessing

import (
	"fmt"
	"math"
	"math/rand"
)

// Tile is a multi-band raster in CHW layout (channels, height, width)
type Tile struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// NewTile checks that data holds channels*height*width values
func NewTile(data []float32, channels, height, width int) (*Tile, error) {
	if channels <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid tile shape [%d %d %d]", channels, height, width)
	}
	if len(data) != channels*height*width {
		return nil, fmt.Errorf("tile data has %d values, shape [%d %d %d] needs %d",
			len(data), channels, height, width, channels*height*width)
	}
	return &Tile{Data: data, Channels: channels, Height: height, Width: width}, nil
}

// Shape returns [C, H, W]
func (t *Tile) Shape() []int {
	return []int{t.Channels, t.Height, t.Width}
}

func (t *Tile) plane() int {
	return t.Height * t.Width
}

// SelectChannels returns a new tile holding only the given bands, in order
func (t *Tile) SelectChannels(channels []int) (*Tile, error) {
	if len(channels) == 0 {
		return t.Clone(), nil
	}
	plane := t.plane()
	out := make([]float32, 0, len(channels)*plane)
	for _, c := range channels {
		if c < 0 || c >= t.Channels {
			return nil, fmt.Errorf("channel %d out of range for tile with %d channels", c, t.Channels)
		}
		out = append(out, t.Data[c*plane:(c+1)*plane]...)
	}
	return &Tile{Data: out, Channels: len(channels), Height: t.Height, Width: t.Width}, nil
}

// Clone returns a deep copy
func (t *Tile) Clone() *Tile {
	return &Tile{
		Data:     append([]float32(nil), t.Data...),
		Channels: t.Channels,
		Height:   t.Height,
		Width:    t.Width,
	}
}

// Crop cuts a size x size window with its top-left corner at (top, left)
func (t *Tile) Crop(top, left, size int) (*Tile, error) {
	if size <= 0 || top < 0 || left < 0 || top+size > t.Height || left+size > t.Width {
		return nil, fmt.Errorf("crop %dx%d at (%d, %d) outside tile %dx%d", size, size, top, left, t.Height, t.Width)
	}
	plane := t.plane()
	out := make([]float32, t.Channels*size*size)
	for c := 0; c < t.Channels; c++ {
		for y := 0; y < size; y++ {
			src := t.Data[c*plane+(top+y)*t.Width+left:]
			copy(out[(c*size+y)*size:(c*size+y+1)*size], src[:size])
		}
	}
	return &Tile{Data: out, Channels: t.Channels, Height: size, Width: size}, nil
}

// CropWindow picks the crop origin for a size x size window. Training
// crops are drawn from rng; otherwise the window is centred.
func CropWindow(height, width, size int, rng *rand.Rand) (top, left int) {
	if rng == nil {
		return (height - size) / 2, (width - size) / 2
	}
	return rng.Intn(height - size + 1), rng.Intn(width - size + 1)
}

// DihedralCount is the number of distinct Dihedral transforms
const DihedralCount = 8

// Dihedral applies one of the eight rotations/reflections of a square tile.
// k%4 quarter turns counter-clockwise, preceded by a horizontal flip when
// k >= 4. k == 0 is the identity.
func (t *Tile) Dihedral(k int) (*Tile, error) {
	if k < 0 || k >= DihedralCount {
		return nil, fmt.Errorf("dihedral transform %d out of range [0, %d)", k, DihedralCount)
	}
	if k == 0 {
		return t.Clone(), nil
	}
	if t.Height != t.Width {
		return nil, fmt.Errorf("dihedral transform needs a square tile, got %dx%d", t.Height, t.Width)
	}

	n := t.Width
	plane := t.plane()
	out := make([]float32, len(t.Data))
	for c := 0; c < t.Channels; c++ {
		src := t.Data[c*plane : (c+1)*plane]
		dst := out[c*plane : (c+1)*plane]
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				si, sj := dihedralSource(i, j, n, k)
				dst[i*n+j] = src[si*n+sj]
			}
		}
	}
	return &Tile{Data: out, Channels: t.Channels, Height: n, Width: n}, nil
}

// dihedralSource maps an output pixel back to the input pixel it comes from
func dihedralSource(i, j, n, k int) (int, int) {
	if k >= 4 {
		// rotate first, then mirror the rotated result
		j = n - 1 - j
		k -= 4
	}
	switch k {
	case 1:
		return j, n - 1 - i
	case 2:
		return n - 1 - i, n - 1 - j
	case 3:
		return n - 1 - j, i
	default:
		return i, j
	}
}

// Sanitize replaces NaN and infinite values with zero and returns how many
// were replaced. Nodata pixels in satellite rasters are commonly NaN.
func (t *Tile) Sanitize() int {
	replaced := 0
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			t.Data[i] = 0
			replaced++
		}
	}
	return replaced
}
