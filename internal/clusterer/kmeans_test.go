package clusterer

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvenlySpacedSeeds(t *testing.T) {
	assert.Equal(t, []int{0, 3, 6}, EvenlySpacedSeeds(10, 3))
	assert.Equal(t, []int{0, 1}, EvenlySpacedSeeds(2, 2))
}

func TestKMeans_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	data := make([][]float64, 60)
	for i := range data {
		data[i] = []float64{rng.Float64() * 10, rng.Float64() * 10}
	}

	first := KMeans(data, 4, 100, nil)
	for run := 0; run < 5; run++ {
		assert.Equal(t, first, KMeans(data, 4, 100, nil))
	}
}

func TestKMeans_SeparatedGroups(t *testing.T) {
	data := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1},
	}
	assignments := KMeans(data, 2, 100, nil)
	require.Len(t, assignments, 6)
	assert.Equal(t, assignments[0], assignments[1])
	assert.Equal(t, assignments[0], assignments[2])
	assert.Equal(t, assignments[3], assignments[4])
	assert.Equal(t, assignments[3], assignments[5])
	assert.NotEqual(t, assignments[0], assignments[3])
}

func TestKMeans_EdgeCases(t *testing.T) {
	assert.Empty(t, KMeans(nil, 3, 10, nil))
	assert.Equal(t, []int{0, 1}, KMeans([][]float64{{1}, {2}}, 5, 10, nil))
}

func TestKMeans_CustomSeeds(t *testing.T) {
	data := [][]float64{{0}, {1}, {10}, {11}}
	lastFirst := func(n, k int) []int { return []int{n - 1, 0} }
	assignments := KMeans(data, 2, 10, lastFirst)
	assert.Equal(t, []int{1, 1, 0, 0}, assignments)
}

func TestFitCurve(t *testing.T) {
	a, b := fitCurve(1.0, 0.1)
	assert.InDelta(t, 1.58, a, 0.2)
	assert.InDelta(t, 0.9, b, 0.1)
}

func TestProject(t *testing.T) {
	data := blobs(3, 10, 8)
	opts := UMAPOptions{NNeighbors: 15, Seed: 42}

	first := Project(data, opts)
	require.Len(t, first, 30)
	for _, p := range first {
		assert.False(t, math.IsNaN(p[0]) || math.IsNaN(p[1]))
	}
	assert.Equal(t, first, Project(data, opts))

	assert.Nil(t, Project(nil, opts))
	assert.Equal(t, [][2]float64{{0, 0}}, Project([][]float64{{1, 2}}, opts))
}

// blobs 生成 groups 组相互远离的高维点，每组 size 个，按组顺序排列
func blobs(groups, size, dim int) [][]float64 {
	rng := rand.New(rand.NewPCG(1, 1))
	data := make([][]float64, 0, groups*size)
	for g := 0; g < groups; g++ {
		for i := 0; i < size; i++ {
			v := make([]float64, dim)
			for d := range v {
				v[d] = rng.Float64() * 0.1
			}
			v[g%dim] += 10
			data = append(data, v)
		}
	}
	return data
}
