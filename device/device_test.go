package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
)

func TestParse(t *testing.T) {
	d, err := Parse("cpu")
	require.NoError(t, err)
	assert.Equal(t, tensor.CPU, d)

	d, err = Parse(" CPU ")
	require.NoError(t, err)
	assert.Equal(t, tensor.CPU, d)

	_, err = Parse("cuda:0")
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestDescribe(t *testing.T) {
	info := Describe()
	assert.NotEmpty(t, info.Brand)
	assert.Greater(t, info.LogicalCores, 0)
	assert.NotEmpty(t, info.String())

	w := DefaultWorkers()
	assert.GreaterOrEqual(t, w, 1)
	assert.LessOrEqual(t, w, 8)
}
