package dataset

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/satlab/multitask/errors"
)

func writeTile(t *testing.T, fs afero.Fs, path string, shape []int, data []float32) {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteNPY(&buf, shape, data); err != nil {
		t.Fatal(err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func ramp(n int, offset float32) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = offset + float32(i)
	}
	return data
}

// newFixture writes two labelled 4x4 tiles with 3 bands, one unlabelled
// tile and a stray text file.
func newFixture(t *testing.T) (afero.Fs, *Labels) {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, name := range []string{"site_a.npy", "site_c.npy", "unlabelled.npy"} {
		writeTile(t, fs, filepath.Join("img", name), []int{3, 4, 4}, ramp(48, 0))
		writeTile(t, fs, filepath.Join("seg", name), []int{4, 4}, []float32{
			0, 0, 0, 0,
			0, 1, 1, 0,
			0, 1, 255, 0,
			0, 0, 0, 0,
		})
	}
	afero.WriteFile(fs, filepath.Join("img", "README.txt"), []byte("notes"), 0644)

	labels, err := ReadLabels(strings.NewReader(labelCSV))
	if err != nil {
		t.Fatal(err)
	}
	return fs, labels
}

func TestSatelliteDataset(t *testing.T) {
	fs, labels := newFixture(t)

	ds, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg", Channels: []int{2, 0}, Mult: 2}, labels, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSatelliteDataset failed: %v", err)
	}
	if ds.Tiles() != 2 || ds.Len() != 4 {
		t.Errorf("Tiles=%d Len=%d", ds.Tiles(), ds.Len())
	}
	if !reflect.DeepEqual(ds.Skipped(), []string{"unlabelled.npy"}) {
		t.Errorf("Skipped = %v", ds.Skipped())
	}

	s, err := ds.Item(3, 0)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if s.Name != "site_c.npy" || s.Target != 0 || s.Label != 1 {
		t.Errorf("unexpected sample %s target=%v label=%d", s.Name, s.Target, s.Label)
	}
	if !reflect.DeepEqual(s.Image.Shape(), []int{2, 4, 4}) {
		t.Errorf("image shape %v", s.Image.Shape())
	}
	if s.Image.Data[0] != 32 || s.Image.Data[16] != 0 {
		t.Errorf("channel selection wrong: %v", s.Image.Data[:17])
	}
	if !reflect.DeepEqual(s.Weather, []float32{-1, 0, 1}) {
		t.Errorf("weather %v", s.Weather)
	}
	if s.Mask.Data[10] != 1 {
		t.Errorf("mask should be binarized, got %v", s.Mask.Data[10])
	}

	if _, err := ds.Item(4, 0); errors.KindOf(err) != errors.KindData {
		t.Errorf("expected data error for index out of range, got %v", err)
	}
}

func TestSatelliteDatasetCropAndAugment(t *testing.T) {
	fs, labels := newFixture(t)

	eval, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg", CropSize: 2}, labels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := eval.Item(0, 0)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	// centre crop of the 4x4 ramp keeps rows 1-2 and columns 1-2
	if !reflect.DeepEqual(s.Image.Data[:4], []float32{5, 6, 9, 10}) {
		t.Errorf("centre crop %v", s.Image.Data[:4])
	}
	if !reflect.DeepEqual(s.Mask.Data, []float32{1, 1, 1, 1}) {
		t.Errorf("mask crop %v", s.Mask.Data)
	}

	train, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg", Train: true, CropSize: 2}, labels, NewTileCache(8), nil)
	if err != nil {
		t.Fatal(err)
	}
	a, err := train.Item(1, 42)
	if err != nil {
		t.Fatal(err)
	}
	b, err := train.Item(1, 42)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Image.Data, b.Image.Data) || !reflect.DeepEqual(a.Mask.Data, b.Mask.Data) {
		t.Error("same seed must give the same augmented sample")
	}

	distinct := make(map[float32]bool)
	for seed := int64(0); seed < 50; seed++ {
		s, err := train.Item(1, seed)
		if err != nil {
			t.Fatal(err)
		}
		distinct[s.Image.Data[0]] = true
	}
	if len(distinct) < 2 {
		t.Error("different seeds should produce different crops")
	}
}

func TestSatelliteDatasetErrors(t *testing.T) {
	fs, labels := newFixture(t)

	if _, err := NewSatelliteDataset(fs, Config{ImageDir: "nope", MaskDir: "seg"}, labels, nil, nil); errors.KindOf(err) != errors.KindConfig {
		t.Errorf("missing image dir: expected config error, got %v", err)
	}

	fs.Remove(filepath.Join("seg", "site_c.npy"))
	if _, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg"}, labels, nil, nil); errors.KindOf(err) != errors.KindData {
		t.Errorf("missing mask: expected data error, got %v", err)
	}

	fs, labels = newFixture(t)
	big, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg", CropSize: 8}, labels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := big.Item(0, 0); errors.KindOf(err) != errors.KindData {
		t.Errorf("tile smaller than crop: expected data error, got %v", err)
	}

	bad, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg", Channels: []int{5}}, labels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad.Item(0, 0); errors.KindOf(err) != errors.KindData {
		t.Errorf("channel out of range: expected data error, got %v", err)
	}

	writeTile(t, fs, filepath.Join("seg", "site_a.npy"), []int{3, 3}, ramp(9, 0))
	mismatched, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg"}, labels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mismatched.Item(0, 0); errors.KindOf(err) != errors.KindData {
		t.Errorf("mask shape mismatch: expected data error, got %v", err)
	}
}

func TestConcat(t *testing.T) {
	fs, labels := newFixture(t)
	a, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg", Mult: 3}, labels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewSatelliteDataset(fs, Config{ImageDir: "img", MaskDir: "seg"}, labels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	c := Concat(a, b)
	if c.Len() != 8 {
		t.Fatalf("Len = %d, expected 8", c.Len())
	}
	names := make([]string, c.Len())
	for i := range names {
		s, err := c.Item(i, 0)
		if err != nil {
			t.Fatalf("Item(%d) failed: %v", i, err)
		}
		names[i] = s.Name
	}
	expected := []string{"site_a.npy", "site_c.npy", "site_a.npy", "site_c.npy", "site_a.npy", "site_c.npy", "site_a.npy", "site_c.npy"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("names %v", names)
	}

	if _, err := c.Item(8, 0); err == nil {
		t.Error("expected error past the end")
	}
	if Concat().Len() != 0 {
		t.Error("empty concat should have no items")
	}
}
