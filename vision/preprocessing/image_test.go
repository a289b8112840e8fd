package preprocessing

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func seq(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)
	}
	return data
}

func TestNewTile(t *testing.T) {
	if _, err := NewTile(seq(12), 3, 2, 2); err != nil {
		t.Fatalf("NewTile failed: %v", err)
	}
	if _, err := NewTile(seq(11), 3, 2, 2); err == nil {
		t.Error("expected error for short data")
	}
	if _, err := NewTile(nil, 0, 2, 2); err == nil {
		t.Error("expected error for zero channels")
	}
}

func TestSelectChannels(t *testing.T) {
	tile, _ := NewTile(seq(12), 3, 2, 2)

	sel, err := tile.SelectChannels([]int{2, 0})
	if err != nil {
		t.Fatalf("SelectChannels failed: %v", err)
	}
	expected := []float32{8, 9, 10, 11, 0, 1, 2, 3}
	if !reflect.DeepEqual(sel.Data, expected) || sel.Channels != 2 {
		t.Errorf("got %v (%d channels), expected %v", sel.Data, sel.Channels, expected)
	}

	if _, err := tile.SelectChannels([]int{3}); err == nil {
		t.Error("expected error for channel out of range")
	}

	all, err := tile.SelectChannels(nil)
	if err != nil || !reflect.DeepEqual(all.Data, tile.Data) {
		t.Errorf("empty selection should keep every channel, got %v, %v", all, err)
	}
	all.Data[0] = 99
	if tile.Data[0] == 99 {
		t.Error("selection must not alias the source tile")
	}
}

func TestCrop(t *testing.T) {
	tile, _ := NewTile(seq(18), 2, 3, 3)

	crop, err := tile.Crop(1, 1, 2)
	if err != nil {
		t.Fatalf("Crop failed: %v", err)
	}
	expected := []float32{4, 5, 7, 8, 13, 14, 16, 17}
	if !reflect.DeepEqual(crop.Data, expected) {
		t.Errorf("got %v, expected %v", crop.Data, expected)
	}
	if !reflect.DeepEqual(crop.Shape(), []int{2, 2, 2}) {
		t.Errorf("unexpected shape %v", crop.Shape())
	}

	if _, err := tile.Crop(2, 0, 2); err == nil {
		t.Error("expected error for window outside tile")
	}
}

func TestCropWindow(t *testing.T) {
	top, left := CropWindow(300, 300, 120, nil)
	if top != 90 || left != 90 {
		t.Errorf("centre crop at (%d, %d), expected (90, 90)", top, left)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		top, left := CropWindow(5, 4, 3, rng)
		if top < 0 || top > 2 || left < 0 || left > 1 {
			t.Fatalf("window (%d, %d) out of bounds", top, left)
		}
	}
}

func TestDihedral(t *testing.T) {
	tile, _ := NewTile([]float32{1, 2, 3, 4}, 1, 2, 2)

	expected := [][]float32{
		{1, 2, 3, 4},
		{2, 4, 1, 3},
		{4, 3, 2, 1},
		{3, 1, 4, 2},
		{2, 1, 4, 3},
		{4, 2, 3, 1},
		{3, 4, 1, 2},
		{1, 3, 2, 4},
	}
	seen := make(map[[4]float32]bool)
	for k := 0; k < DihedralCount; k++ {
		out, err := tile.Dihedral(k)
		if err != nil {
			t.Fatalf("Dihedral(%d) failed: %v", k, err)
		}
		if !reflect.DeepEqual(out.Data, expected[k]) {
			t.Errorf("Dihedral(%d) = %v, expected %v", k, out.Data, expected[k])
		}
		var key [4]float32
		copy(key[:], out.Data)
		seen[key] = true
	}
	if len(seen) != DihedralCount {
		t.Errorf("expected %d distinct transforms, got %d", DihedralCount, len(seen))
	}

	if _, err := tile.Dihedral(8); err == nil {
		t.Error("expected error for k out of range")
	}
	rect, _ := NewTile(seq(6), 1, 2, 3)
	if _, err := rect.Dihedral(1); err == nil {
		t.Error("expected error for non-square tile")
	}
}

func TestSanitize(t *testing.T) {
	tile, _ := NewTile([]float32{1, float32(math.NaN()), float32(math.Inf(1)), -2}, 1, 2, 2)
	if n := tile.Sanitize(); n != 2 {
		t.Errorf("replaced %d values, expected 2", n)
	}
	if !reflect.DeepEqual(tile.Data, []float32{1, 0, 0, -2}) {
		t.Errorf("unexpected data %v", tile.Data)
	}
}
