package clusterer

import (
	"math"
	"math/rand/v2"
	"sort"
)

// UMAPOptions 邻域图投影参数
type UMAPOptions struct {
	NNeighbors int
	MinDist    float64
	Spread     float64
	Epochs     int
	Seed       uint64
}

const (
	defaultNNeighbors   = 15
	defaultMinDist      = 0.1
	defaultSpread       = 1.0
	negativeSampleRate  = 5
	sigmaSearchSteps    = 64
	sigmaTolerance      = 1e-5
	minKDistScale       = 1e-3
	gradientClip        = 4.0
	initialEmbedRange   = 10.0
	repulsionEpsilon    = 0.001
	curveFitSamples     = 300
	curveFitRefineSteps = 60
)

// Project 将高维向量投影到二维：构建 kNN 模糊图后用带负采样的 SGD 优化布局
func Project(data [][]float64, opts UMAPOptions) [][2]float64 {
	n := len(data)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return [][2]float64{{0, 0}}
	}

	if opts.NNeighbors <= 0 {
		opts.NNeighbors = defaultNNeighbors
	}
	opts.NNeighbors = min(opts.NNeighbors, n-1)
	if opts.MinDist <= 0 {
		opts.MinDist = defaultMinDist
	}
	if opts.Spread <= 0 {
		opts.Spread = defaultSpread
	}
	if opts.Epochs <= 0 {
		opts.Epochs = defaultEpochs(n)
	}

	indices, distances := nearestNeighbors(data, opts.NNeighbors)
	graph := fuzzySimplicialSet(indices, distances, opts.NNeighbors)
	a, b := fitCurve(opts.Spread, opts.MinDist)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	embedding := make([][2]float64, n)
	for i := range embedding {
		embedding[i] = [2]float64{
			rng.Float64()*2*initialEmbedRange - initialEmbedRange,
			rng.Float64()*2*initialEmbedRange - initialEmbedRange,
		}
	}

	optimizeLayout(embedding, graph, a, b, opts.Epochs, rng)
	return embedding
}

func defaultEpochs(n int) int {
	switch {
	case n <= 2500:
		return 500
	case n <= 5000:
		return 400
	case n <= 7500:
		return 300
	default:
		return 200
	}
}

// nearestNeighbors 暴力求每个点的 k 个最近邻（不含自身），按距离升序
func nearestNeighbors(data [][]float64, k int) ([][]int, [][]float64) {
	n := len(data)
	indices := make([][]int, n)
	distances := make([][]float64, n)

	type candidate struct {
		index    int
		distance float64
	}
	candidates := make([]candidate, 0, n-1)
	for i := 0; i < n; i++ {
		candidates = candidates[:0]
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			candidates = append(candidates, candidate{index: j, distance: math.Sqrt(squaredDistance(data[i], data[j]))})
		}
		sort.SliceStable(candidates, func(x, y int) bool {
			return candidates[x].distance < candidates[y].distance
		})

		indices[i] = make([]int, k)
		distances[i] = make([]float64, k)
		for m := 0; m < k; m++ {
			indices[i][m] = candidates[m].index
			distances[i][m] = candidates[m].distance
		}
	}
	return indices, distances
}

type edge struct {
	head, tail int
	weight     float64
}

// fuzzySimplicialSet 计算每个点的局部连通距离 rho 与带宽 sigma，再做模糊并集对称化
func fuzzySimplicialSet(indices [][]int, distances [][]float64, k int) []edge {
	n := len(indices)
	target := math.Log2(float64(k))

	var meanDistance float64
	for _, row := range distances {
		for _, d := range row {
			meanDistance += d
		}
	}
	meanDistance /= float64(n * k)

	weights := make(map[[2]int]float64, n*k)
	for i := 0; i < n; i++ {
		rho := 0.0
		for _, d := range distances[i] {
			if d > 0 {
				rho = d
				break
			}
		}

		lo, hi, sigma := 0.0, math.Inf(1), 1.0
		for step := 0; step < sigmaSearchSteps; step++ {
			sum := 0.0
			for _, d := range distances[i] {
				sum += math.Exp(-math.Max(0, d-rho) / sigma)
			}
			if math.Abs(sum-target) < sigmaTolerance {
				break
			}
			if sum > target {
				hi = sigma
				sigma = (lo + hi) / 2
			} else {
				lo = sigma
				if math.IsInf(hi, 1) {
					sigma *= 2
				} else {
					sigma = (lo + hi) / 2
				}
			}
		}

		var rowMean float64
		for _, d := range distances[i] {
			rowMean += d
		}
		rowMean /= float64(k)
		if rho > 0 {
			sigma = math.Max(sigma, minKDistScale*rowMean)
		} else {
			sigma = math.Max(sigma, minKDistScale*meanDistance)
		}

		for m, j := range indices[i] {
			w := 1.0
			if distances[i][m]-rho > 0 && sigma > 0 {
				w = math.Exp(-(distances[i][m] - rho) / sigma)
			}
			weights[[2]int{i, j}] = w
		}
	}

	edges := make([]edge, 0, len(weights))
	seen := make(map[[2]int]bool, len(weights))
	for i := 0; i < n; i++ {
		for _, j := range indices[i] {
			key := [2]int{min(i, j), max(i, j)}
			if seen[key] {
				continue
			}
			seen[key] = true

			w1 := weights[[2]int{i, j}]
			w2 := weights[[2]int{j, i}]
			if w := w1 + w2 - w1*w2; w > 0 {
				edges = append(edges, edge{head: key[0], tail: key[1], weight: w})
			}
		}
	}
	return edges
}

// fitCurve 拟合 1/(1+a*x^(2b)) 使其逼近由 minDist 与 spread 决定的目标曲线
func fitCurve(spread, minDist float64) (float64, float64) {
	xs := make([]float64, curveFitSamples)
	ys := make([]float64, curveFitSamples)
	for i := range xs {
		x := 3 * spread * float64(i+1) / float64(curveFitSamples)
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	loss := func(a, b float64) float64 {
		var sum float64
		for i, x := range xs {
			diff := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
			sum += diff * diff
		}
		return sum
	}

	bestA, bestB := 1.0, 1.0
	bestLoss := loss(bestA, bestB)
	for a := 0.1; a <= 5.0; a += 0.1 {
		for b := 0.2; b <= 2.0; b += 0.05 {
			if l := loss(a, b); l < bestLoss {
				bestA, bestB, bestLoss = a, b, l
			}
		}
	}

	// 坐标下降细化
	stepA, stepB := 0.05, 0.025
	for iter := 0; iter < curveFitRefineSteps; iter++ {
		improved := false
		for _, cand := range [][2]float64{
			{bestA + stepA, bestB}, {bestA - stepA, bestB},
			{bestA, bestB + stepB}, {bestA, bestB - stepB},
		} {
			if cand[0] <= 0 || cand[1] <= 0 {
				continue
			}
			if l := loss(cand[0], cand[1]); l < bestLoss {
				bestA, bestB, bestLoss = cand[0], cand[1], l
				improved = true
			}
		}
		if !improved {
			stepA /= 2
			stepB /= 2
		}
	}
	return bestA, bestB
}

func clip(v float64) float64 {
	return math.Max(-gradientClip, math.Min(gradientClip, v))
}

// optimizeLayout 按边权重采样进行吸引，并对随机点做负采样排斥
func optimizeLayout(embedding [][2]float64, edges []edge, a, b float64, epochs int, rng *rand.Rand) {
	if len(edges) == 0 {
		return
	}
	n := len(embedding)

	maxWeight := 0.0
	for _, e := range edges {
		maxWeight = math.Max(maxWeight, e.weight)
	}

	type sample struct {
		edge
		epochsPerSample         float64
		epochOfNextSample       float64
		epochsPerNegativeSample float64
		epochOfNextNegative     float64
	}
	samples := make([]sample, 0, len(edges))
	for _, e := range edges {
		if e.weight < maxWeight/float64(epochs) {
			continue
		}
		eps := maxWeight / e.weight
		samples = append(samples, sample{
			edge:                    e,
			epochsPerSample:         eps,
			epochOfNextSample:       eps,
			epochsPerNegativeSample: eps / negativeSampleRate,
			epochOfNextNegative:     eps / negativeSampleRate,
		})
	}

	for epoch := 0; epoch < epochs; epoch++ {
		alpha := 1 - float64(epoch)/float64(epochs)
		e := float64(epoch)

		for s := range samples {
			sp := &samples[s]
			if sp.epochOfNextSample > e {
				continue
			}

			current := &embedding[sp.head]
			other := &embedding[sp.tail]
			dx := current[0] - other[0]
			dy := current[1] - other[1]
			dist2 := dx*dx + dy*dy

			if dist2 > 0 {
				coeff := -2 * a * b * math.Pow(dist2, b-1) / (a*math.Pow(dist2, b) + 1)
				gx := clip(coeff*dx) * alpha
				gy := clip(coeff*dy) * alpha
				current[0] += gx
				current[1] += gy
				other[0] -= gx
				other[1] -= gy
			}
			sp.epochOfNextSample += sp.epochsPerSample

			negatives := int((e - sp.epochOfNextNegative) / sp.epochsPerNegativeSample)
			for p := 0; p < negatives; p++ {
				k := rng.IntN(n)
				if k == sp.head {
					continue
				}
				neg := embedding[k]
				dx := current[0] - neg[0]
				dy := current[1] - neg[1]
				dist2 := dx*dx + dy*dy

				var gx, gy float64
				if dist2 > 0 {
					coeff := 2 * b / ((repulsionEpsilon + dist2) * (a*math.Pow(dist2, b) + 1))
					gx = clip(coeff * dx)
					gy = clip(coeff * dy)
				} else {
					gx, gy = gradientClip, gradientClip
				}
				current[0] += gx * alpha
				current[1] += gy * alpha
			}
			sp.epochOfNextNegative += float64(negatives) * sp.epochsPerNegativeSample
		}
	}
}
