package clusterer

import (
	"math"
	"slices"
)

// DefaultKMeansMaxIterations k-means 最大迭代次数
const DefaultKMeansMaxIterations = 100

// SeedFunc 返回作为初始质心的数据下标
type SeedFunc func(n, k int) []int

// EvenlySpacedSeeds 以 floor(n/k) 为步长等距选取初始质心
func EvenlySpacedSeeds(n, k int) []int {
	step := n / k
	seeds := make([]int, k)
	for i := range seeds {
		seeds[i] = i * step
	}
	return seeds
}

// KMeans 对数据做 k-means 划分，初始质心由 seed 决定，结果可复现
func KMeans(data [][]float64, k, maxIterations int, seed SeedFunc) []int {
	n := len(data)
	if n == 0 {
		return []int{}
	}
	if k >= n {
		assignments := make([]int, n)
		for i := range assignments {
			assignments[i] = i
		}
		return assignments
	}
	if k <= 0 {
		k = 1
	}
	if seed == nil {
		seed = EvenlySpacedSeeds
	}
	if maxIterations <= 0 {
		maxIterations = DefaultKMeansMaxIterations
	}

	dim := len(data[0])
	centroids := make([][]float64, k)
	for c, idx := range seed(n, k) {
		centroids[c] = slices.Clone(data[idx])
	}

	assignments := make([]int, n)
	for iter := 0; iter < maxIterations; iter++ {
		next := make([]int, n)
		for i, point := range data {
			minDist := math.Inf(1)
			for c, centroid := range centroids {
				if d := squaredDistance(point, centroid); d < minDist {
					minDist = d
					next[i] = c
				}
			}
		}

		if slices.Equal(assignments, next) {
			break
		}
		assignments = next

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, point := range data {
			c := assignments[i]
			if sums[c] == nil {
				sums[c] = make([]float64, dim)
			}
			for d, v := range point {
				sums[c][d] += v
			}
			counts[c]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return assignments
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}
