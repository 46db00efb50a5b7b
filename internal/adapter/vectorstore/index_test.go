package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIndex_AddAndSearchL2(t *testing.T) {
	idx, err := NewFlatIndex(MetricL2, 2)
	require.NoError(t, err)

	require.NoError(t, idx.Add([]float32{0, 0}))
	require.NoError(t, idx.Add([]float32{3, 4}))
	require.NoError(t, idx.Add([]float32{1, 0}))
	assert.Equal(t, 3, idx.NTotal())

	hits, err := idx.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Pos: 0, Distance: 0}, {Pos: 2, Distance: 1}}, hits)
}

func TestFlatIndex_SearchIP(t *testing.T) {
	idx, err := NewFlatIndex(MetricIP, 2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{1, 0}))
	require.NoError(t, idx.Add([]float32{0, 1}))

	hits, err := idx.Search([]float32{0.2, 0.9}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 1, hits[0].Pos)
	assert.InDelta(t, 0.9, hits[0].Distance, 1e-6)
}

func TestFlatIndex_DimensionMismatch(t *testing.T) {
	idx, err := NewFlatIndex(MetricL2, 3)
	require.NoError(t, err)

	assert.ErrorIs(t, idx.Add([]float32{1, 2}), ErrDimensionMismatch)
	_, err = idx.Search([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlatIndex_RemoveAtShifts(t *testing.T) {
	idx, err := NewFlatIndex(MetricL2, 1)
	require.NoError(t, err)
	for _, v := range []float32{10, 20, 30} {
		require.NoError(t, idx.Add([]float32{v}))
	}

	require.NoError(t, idx.RemoveAt(1))
	assert.Equal(t, 2, idx.NTotal())
	assert.Equal(t, []float32{30}, idx.Vector(1))
	assert.Error(t, idx.RemoveAt(5))
}

func TestFlatIndex_Set(t *testing.T) {
	idx, err := NewFlatIndex(MetricL2, 1)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{1}))

	require.NoError(t, idx.Set(0, []float32{7}))
	assert.Equal(t, []float32{7}, idx.Vector(0))
	assert.Error(t, idx.Set(1, []float32{7}))
}

func TestFlatIndex_BinaryRoundTrip(t *testing.T) {
	idx, err := NewFlatIndex(MetricIP, 3)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{1, 2, 3}))
	require.NoError(t, idx.Add([]float32{-1, 0.5, 4}))

	data, err := idx.MarshalBinary()
	require.NoError(t, err)

	var got FlatIndex
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, MetricIP, got.Metric())
	assert.Equal(t, 3, got.Dimension())
	assert.Equal(t, 2, got.NTotal())
	assert.Equal(t, []float32{-1, 0.5, 4}, got.Vector(1))

	assert.ErrorIs(t, got.UnmarshalBinary(data[:len(data)-2]), ErrCorruptSnapshot)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)

	_, err = ParseMetric("cosine")
	assert.ErrorIs(t, err, ErrUnknownMetric)

	assert.InDelta(t, 0.5, MetricL2.Score(1), 1e-9)
	assert.InDelta(t, 0.8, MetricIP.Score(0.8), 1e-9)
}
