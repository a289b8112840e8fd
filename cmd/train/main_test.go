package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/vision/dataset"
)

func writeNPY(t *testing.T, fs afero.Fs, path string, shape []int, data []float32) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, dataset.WriteNPY(&buf, shape, data))
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0644))
}

// writeTiles lays out 3-band tiles of the given size with a square footprint
func writeTiles(t *testing.T, fs afero.Fs, sub string, size int, names ...string) {
	t.Helper()
	for n, name := range names {
		img := make([]float32, 3*size*size)
		for i := range img {
			img[i] = float32((i+n)%11) / 11
		}
		mask := make([]float32, size*size)
		for r := 1; r < size-1; r++ {
			for c := 1; c < size/2+1; c++ {
				mask[r*size+c] = 1
			}
		}
		writeNPY(t, fs, filepath.Join("data", "images", sub, name), []int{3, size, size}, img)
		writeNPY(t, fs, filepath.Join("data", "seg", sub, name), []int{size, size}, mask)
	}
}

func newDataFixture(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeTiles(t, fs, filepath.Join("training", "120x120"), 4, "t1.npy", "t2.npy", "t3.npy")
	writeTiles(t, fs, filepath.Join("training", "300x300"), 6, "big.npy")
	writeTiles(t, fs, "validation", 4, "v1.npy", "v2.npy")

	csv := "filename,gen_output,type,weather\n"
	for i, name := range []string{"t1", "t2", "t3", "big", "v1", "v2"} {
		csv += fmt.Sprintf("%s.npy,%d.5,%d,0.%d;0.5\n", name, i, i%3, i)
	}
	require.NoError(t, afero.WriteFile(fs, "labels.csv", []byte(csv), 0644))
	return fs
}

func baseArgs() []string {
	return []string{
		"--ep", "2", "--bs", "2", "--lr", "0.05",
		"--exp-name", "smoke",
		"--channels", "0,2",
		"--data-dir", "data/images",
		"--seg-label-dir", "data/seg",
		"--reg-file", "labels.csv",
		"--checkpoint-dir", "ckpt",
		"--crop-size", "4",
		"--train-mult", "2",
		"--hidden", "3",
		"--features", "4",
		"--workers", "2",
		"--tracking-db", "",
		"--checkpoint-format", "json",
	}
}

func TestRun(t *testing.T) {
	fs := newDataFixture(t)
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), fs, baseArgs(), &stdout, &stderr))

	assert.Contains(t, stdout.String(), "Total parameters")
	assert.Contains(t, stdout.String(), "epoch complete")

	dir := filepath.Join("ckpt", "smoke")
	for _, task := range checkpoints.Tasks {
		exists, err := afero.DirExists(fs, filepath.Join(dir, task.Dir()))
		require.NoError(t, err)
		assert.True(t, exists, task.Dir())
	}
	files, err := afero.ReadDir(fs, filepath.Join(dir, checkpoints.Regression.Dir()))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	ckpt, err := checkpoints.Open(fs, filepath.Join(dir, checkpoints.Regression.Dir(), files[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, 2, ckpt.Architecture.Channels)
	assert.Equal(t, 3, ckpt.Architecture.Hidden)
	assert.Equal(t, 4, ckpt.Architecture.Features)

	exists, err := afero.Exists(fs, filepath.Join(dir, "training_curves.json"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fs afero.Fs)
		args  []string
		kind  errors.Kind
	}{
		{"bad flag", nil, []string{"--ep", "0"}, errors.KindConfig},
		{"missing label file", func(fs afero.Fs) { fs.Remove("labels.csv") }, nil, errors.KindConfig},
		{"too many classes", nil, []string{"--classes", "2"}, errors.KindConfig},
		{"missing mask", func(fs afero.Fs) { fs.Remove(filepath.Join("data", "seg", "validation", "v1.npy")) }, nil, errors.KindData},
		{"tile smaller than crop", nil, []string{"--crop-size", "5"}, errors.KindData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newDataFixture(t)
			if tt.setup != nil {
				tt.setup(fs)
			}
			args := append(baseArgs(), tt.args...)
			err := run(context.Background(), fs, args, &bytes.Buffer{}, &bytes.Buffer{})
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err), err.Error())
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), afero.NewMemMapFs(), []string{"--help"}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "--weight-segmentation")
}
