package routing

import (
	"math"
	"testing"

	routererrors "content-router/src/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingIsLazyAndUniform(t *testing.T) {
	s := NewRouteMappingStore("a", "b", "a", "c")
	assert.Equal(t, []string{"a", "b", "c"}, s.Backends())
	assert.False(t, s.Has(CategoryVideo))

	m := s.Mapping(CategoryVideo)
	assert.True(t, s.Has(CategoryVideo))
	assert.InDelta(t, 1.0, m.Sum(), 1e-9)
	for _, w := range m.BackendMappings {
		assert.InDelta(t, 1.0/3.0, w, 1e-12)
	}

	empty := NewRouteMappingStore()
	assert.Empty(t, empty.Mapping(CategoryVideo).BackendMappings)
	assert.False(t, empty.Has(CategoryVideo))
}

func TestSetMappingNormalizesAndValidates(t *testing.T) {
	s := NewRouteMappingStore("a", "b")

	m, err := s.SetMapping(CategoryImage, map[string]float64{"a": 3, "b": 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, m.BackendMappings["a"], 1e-12)
	assert.InDelta(t, 1.0, m.Sum(), 1e-9)

	tests := []struct {
		name    string
		weights map[string]float64
		check   func(error) bool
	}{
		{"empty", map[string]float64{}, routererrors.IsValidationError},
		{"unknown backend", map[string]float64{"zzz": 1}, routererrors.IsUnknownBackendError},
		{"negative", map[string]float64{"a": -1, "b": 2}, routererrors.IsValidationError},
		{"nan", map[string]float64{"a": math.NaN()}, routererrors.IsValidationError},
		{"zero sum", map[string]float64{"a": 0, "b": 0}, routererrors.IsValidationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SetMapping(CategoryImage, tt.weights)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
			assert.InDelta(t, 0.75, s.Mapping(CategoryImage).BackendMappings["a"], 1e-12)
		})
	}
}

func TestAddAndRemoveBackendKeepSumInvariant(t *testing.T) {
	s := NewRouteMappingStore("a", "b")
	s.Mapping(CategoryImage)
	s.AddBackend("c")
	s.AddBackend("c")

	m := s.Mapping(CategoryImage)
	assert.InDelta(t, 1.0, m.Sum(), 1e-9)
	assert.InDelta(t, 0.1/1.1, m.BackendMappings["c"], 1e-9)

	s.RemoveBackend("a")
	m = s.Mapping(CategoryImage)
	assert.NotContains(t, m.BackendMappings, "a")
	assert.InDelta(t, 1.0, m.Sum(), 1e-9)
	assert.InDelta(t, 5.0/6.0, m.BackendMappings["b"], 1e-9)
	assert.Equal(t, []string{"b", "c"}, s.Backends())

	s.RemoveBackend("b")
	s.RemoveBackend("c")
	assert.False(t, s.Has(CategoryImage))
}

func TestWeightedSelect(t *testing.T) {
	s := NewRouteMappingStore("a", "b")
	_, err := s.SetMapping(CategoryAudio, map[string]float64{"a": 0.7, "b": 0.3})
	require.NoError(t, err)

	tests := []struct {
		r    float64
		want string
	}{
		{0, "a"},
		{0.69, "a"},
		{0.71, "b"},
		{0.999, "b"},
		{1, "b"},
		{-3, "a"},
	}
	for _, tt := range tests {
		got, ok := s.WeightedSelect(CategoryAudio, []string{"a", "b"}, tt.r)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "r=%v", tt.r)
	}

	got, _ := s.WeightedSelect(CategoryAudio, []string{"b"}, 0.1)
	assert.Equal(t, "b", got)

	_, ok := s.WeightedSelect(CategoryAudio, nil, 0.1)
	assert.False(t, ok)
}

func TestWeightedSelectEdgeDistributions(t *testing.T) {
	s := NewRouteMappingStore("a", "b", "c")
	_, err := s.SetMapping(CategoryCode, map[string]float64{"a": 1, "b": 0})
	require.NoError(t, err)

	got, _ := s.WeightedSelect(CategoryCode, []string{"b"}, 0.9)
	assert.Equal(t, "b", got, "zero weight candidates draw uniformly")

	got, _ = s.WeightedSelect(CategoryCode, []string{"c", "b"}, 0.1)
	assert.Equal(t, "b", got, "unmapped candidates are skipped")

	got, _ = s.WeightedSelect(CategoryCode, []string{"c"}, 0.5)
	assert.Equal(t, "c", got, "no mapped candidate falls back to the first")
}

func TestWeightedSelectSeesMappingChanges(t *testing.T) {
	s := NewRouteMappingStore("a", "b")
	_, err := s.SetMapping(CategoryVideo, map[string]float64{"a": 0.7, "b": 0.3})
	require.NoError(t, err)
	got, _ := s.WeightedSelect(CategoryVideo, []string{"a", "b"}, 0.5)
	assert.Equal(t, "a", got)

	_, err = s.SetMapping(CategoryVideo, map[string]float64{"a": 0.2, "b": 0.8})
	require.NoError(t, err)
	got, _ = s.WeightedSelect(CategoryVideo, []string{"a", "b"}, 0.5)
	assert.Equal(t, "b", got)

	s.Blend(CategoryVideo, map[string]float64{"a": 1}, 1)
	got, _ = s.WeightedSelect(CategoryVideo, []string{"a", "b"}, 0.99)
	assert.Equal(t, "a", got)
}

func TestBlend(t *testing.T) {
	s := NewRouteMappingStore("a", "b")
	_, err := s.SetMapping(CategoryDocument, map[string]float64{"a": 1, "b": 0})
	require.NoError(t, err)

	m := s.Blend(CategoryDocument, map[string]float64{"a": 0, "b": 1, "ghost": 5}, 0.3)
	assert.InDelta(t, 0.7, m.BackendMappings["a"], 1e-9)
	assert.InDelta(t, 0.3, m.BackendMappings["b"], 1e-9)
	assert.NotContains(t, m.BackendMappings, "ghost")

	m = s.Blend(CategoryDocument, map[string]float64{"a": 0, "b": 1}, 0)
	assert.InDelta(t, 0.7, m.BackendMappings["a"], 1e-9)
}

func TestReplace(t *testing.T) {
	s := NewRouteMappingStore("a")
	s.Mapping(CategoryImage)
	s.Replace([]string{"x", "y"}, map[ContentCategory]map[string]float64{
		CategoryVideo: {"x": 2, "y": 2},
		CategoryAudio: {},
	})

	assert.Equal(t, []string{"x", "y"}, s.Backends())
	all := s.All()
	require.Len(t, all, 1)
	assert.InDelta(t, 0.5, all[CategoryVideo].BackendMappings["x"], 1e-12)
}

func TestNormalizeWeights(t *testing.T) {
	assert.Equal(t, map[string]float64{"a": 0.5, "b": 0.5}, normalizeWeights(map[string]float64{"a": 0, "b": -1}))
	assert.Equal(t, map[string]float64{"a": 0.9995, "b": 0.001}, normalizeWeights(map[string]float64{"a": 0.9995, "b": 0.001}))
	got := normalizeWeights(map[string]float64{"a": 2, "b": 6})
	assert.InDelta(t, 0.25, got["a"], 1e-12)
	assert.Empty(t, normalizeWeights(nil))
}
