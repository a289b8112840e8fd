package dataset

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/vision/preprocessing"
)

// Config describes one directory of tiles.
type Config struct {
	ImageDir string
	MaskDir  string
	Channels []int // bands to keep; empty keeps all

	// Mult repeats every tile Mult times per epoch
	Mult int

	// Train enables random dihedral augmentation and random crops; eval
	// crops are centred
	Train bool

	// CropSize is the side of the square window cut from larger tiles; 0
	// keeps tiles at their native size
	CropSize int
}

type tileFile struct {
	name      string
	imagePath string
	maskPath  string
	label     LabelRow
}

// SatelliteDataset pairs .npy image tiles with same-named .npy footprint
// masks and the label row of the site.
type SatelliteDataset struct {
	fs      afero.Fs
	config  Config
	files   []tileFile
	skipped []string
	cache   *TileCache
}

// NewSatelliteDataset lists the tiles of config.ImageDir. Tiles without a
// label row are skipped and counted; a tile without a mask is an error.
func NewSatelliteDataset(fs afero.Fs, config Config, labels *Labels, cache *TileCache, logger *zap.Logger) (*SatelliteDataset, error) {
	if labels == nil {
		return nil, errors.Config("labels are required")
	}
	if config.Mult <= 0 {
		config.Mult = 1
	}
	if config.CropSize < 0 {
		return nil, errors.Config("crop size must not be negative, got %d", config.CropSize)
	}
	if cache == nil {
		cache = NewTileCache(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := afero.ReadDir(fs, config.ImageDir)
	if err != nil {
		return nil, errors.WrapConfig(err, "failed to list image directory %s", config.ImageDir)
	}

	d := &SatelliteDataset{fs: fs, config: config, cache: cache}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".npy") {
			continue
		}
		name := entry.Name()
		label, ok := labels.Lookup(name)
		if !ok {
			d.skipped = append(d.skipped, name)
			continue
		}
		maskPath := filepath.Join(config.MaskDir, name)
		if exists, err := afero.Exists(fs, maskPath); err != nil || !exists {
			return nil, errors.Data("missing segmentation mask %s for tile %s", maskPath, name)
		}
		d.files = append(d.files, tileFile{
			name:      name,
			imagePath: filepath.Join(config.ImageDir, name),
			maskPath:  maskPath,
			label:     label,
		})
	}

	if len(d.skipped) > 0 {
		logger.Warn("skipped tiles without a label row",
			zap.String("dir", config.ImageDir),
			zap.Int("count", len(d.skipped)),
			zap.Strings("first", d.skipped[:minInt(len(d.skipped), 5)]),
		)
	}
	logger.Info("loaded tiles",
		zap.String("dir", config.ImageDir),
		zap.Int("tiles", len(d.files)),
		zap.Int("mult", config.Mult),
		zap.Bool("train", config.Train),
	)
	return d, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Len returns the number of items in the dataset
func (d *SatelliteDataset) Len() int {
	return len(d.files) * d.config.Mult
}

// Tiles returns the number of distinct tiles
func (d *SatelliteDataset) Tiles() int {
	return len(d.files)
}

// Skipped lists the tiles that had no label row
func (d *SatelliteDataset) Skipped() []string {
	return d.skipped
}

// loadTile reads a .npy file as a [C, H, W] tile; 2D arrays get one channel
func (d *SatelliteDataset) loadTile(path string) (*preprocessing.Tile, error) {
	if tile, ok := d.cache.Get(path); ok {
		return tile, nil
	}

	f, err := d.fs.Open(path)
	if err != nil {
		return nil, errors.WrapData(err, "failed to open %s", path)
	}
	defer f.Close()

	data, shape, err := ReadNPY(f)
	if err != nil {
		return nil, errors.WrapData(err, "%s", path)
	}

	var tile *preprocessing.Tile
	switch len(shape) {
	case 2:
		tile, err = preprocessing.NewTile(data, 1, shape[0], shape[1])
	case 3:
		tile, err = preprocessing.NewTile(data, shape[0], shape[1], shape[2])
	default:
		err = fmt.Errorf("expected a 2D or 3D array, got shape %v", shape)
	}
	if err != nil {
		return nil, errors.WrapData(err, "%s", path)
	}
	tile.Sanitize()

	d.cache.Put(path, tile)
	return tile, nil
}

// Item loads, crops and (in training mode) augments one sample
func (d *SatelliteDataset) Item(index int, seed int64) (*Sample, error) {
	if index < 0 || index >= d.Len() {
		return nil, errors.Data("index %d out of range [0, %d)", index, d.Len())
	}
	file := d.files[index%len(d.files)]

	img, err := d.loadTile(file.imagePath)
	if err != nil {
		return nil, err
	}
	mask, err := d.loadTile(file.maskPath)
	if err != nil {
		return nil, err
	}
	if mask.Channels != 1 || mask.Height != img.Height || mask.Width != img.Width {
		return nil, errors.Data("mask %s has shape %v, image is %v", file.maskPath, mask.Shape(), img.Shape())
	}

	if img, err = img.SelectChannels(d.config.Channels); err != nil {
		return nil, errors.WrapData(err, "%s", file.imagePath)
	}

	var rng *rand.Rand
	if d.config.Train {
		rng = rand.New(rand.NewSource(seed))
	}

	if size := d.config.CropSize; size > 0 && (img.Height != size || img.Width != size) {
		if img.Height < size || img.Width < size {
			return nil, errors.Data("tile %s is %dx%d, smaller than crop size %d", file.name, img.Height, img.Width, size)
		}
		top, left := preprocessing.CropWindow(img.Height, img.Width, size, rng)
		if img, err = img.Crop(top, left, size); err != nil {
			return nil, errors.WrapData(err, "%s", file.imagePath)
		}
		if mask, err = mask.Crop(top, left, size); err != nil {
			return nil, errors.WrapData(err, "%s", file.maskPath)
		}
	}

	if rng != nil && img.Height == img.Width {
		k := rng.Intn(preprocessing.DihedralCount)
		if img, err = img.Dihedral(k); err != nil {
			return nil, errors.WrapData(err, "%s", file.imagePath)
		}
		if mask, err = mask.Dihedral(k); err != nil {
			return nil, errors.WrapData(err, "%s", file.maskPath)
		}
	}

	return &Sample{
		Name:    file.name,
		Image:   img,
		Mask:    binarize(mask),
		Weather: append([]float32(nil), file.label.Weather...),
		Target:  float32(file.label.GenOutput),
		Label:   file.label.Type,
	}, nil
}

// binarize maps every positive mask value to 1
func binarize(mask *preprocessing.Tile) *preprocessing.Tile {
	out := make([]float32, len(mask.Data))
	for i, v := range mask.Data {
		if v > 0 {
			out[i] = 1
		}
	}
	return &preprocessing.Tile{Data: out, Channels: 1, Height: mask.Height, Width: mask.Width}
}
