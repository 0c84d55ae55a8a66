package scoring

import (
	"sort"
)

// minGain is the smallest impurity decrease that justifies a split.
const minGain = 1e-12

// node is a decision tree node over a single feature.
// Rows with x <= threshold go left.
type node struct {
	threshold   float64
	left, right *node

	// leaf payload
	probs []float64 // classification: class distribution
	mean  float64   // regression: target mean
}

func (n *node) leaf() bool { return n.left == nil }

func (n *node) find(x float64) *node {
	for !n.leaf() {
		if x <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

type treeParams struct {
	maxDepth       int // 0 means unlimited
	minSamplesLeaf int
}

// sample is one training row.
type sample struct {
	x     float64
	class int
	y     float64
}

// sortSamples orders rows by feature value so splits are found in one sweep.
func sortSamples(s []sample) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].x < s[j].x })
}

// fitClassifier grows a CART classification tree using Gini impurity.
func fitClassifier(rows []sample, nClasses int, p treeParams) *node {
	sortSamples(rows)
	return growClassifier(rows, nClasses, p, 0)
}

func growClassifier(rows []sample, nClasses int, p treeParams, depth int) *node {
	total := make([]float64, nClasses)
	for _, r := range rows {
		total[r.class]++
	}
	n := float64(len(rows))
	probs := make([]float64, nClasses)
	for c := range total {
		probs[c] = total[c] / n
	}
	leaf := &node{probs: probs}

	if (p.maxDepth > 0 && depth >= p.maxDepth) || len(rows) < 2*p.minSamplesLeaf || gini(total, n) == 0 {
		return leaf
	}

	parent := gini(total, n)
	left := make([]float64, nClasses)
	best, bestAt := 0.0, -1
	for i := 0; i < len(rows)-1; i++ {
		left[rows[i].class]++
		if rows[i].x == rows[i+1].x {
			continue
		}
		nl := float64(i + 1)
		nr := n - nl
		if int(nl) < p.minSamplesLeaf || int(nr) < p.minSamplesLeaf {
			continue
		}
		right := make([]float64, nClasses)
		for c := range total {
			right[c] = total[c] - left[c]
		}
		gain := parent - (nl/n)*gini(left, nl) - (nr/n)*gini(right, nr)
		if gain > best+minGain {
			best, bestAt = gain, i
		}
	}
	if bestAt < 0 {
		return leaf
	}

	return &node{
		threshold: midpoint(rows[bestAt].x, rows[bestAt+1].x),
		left:      growClassifier(rows[:bestAt+1], nClasses, p, depth+1),
		right:     growClassifier(rows[bestAt+1:], nClasses, p, depth+1),
	}
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		q := c / n
		g -= q * q
	}
	return g
}

// fitRegressor grows a CART regression tree minimizing squared error.
func fitRegressor(rows []sample, p treeParams) *node {
	sortSamples(rows)
	return growRegressor(rows, p, 0)
}

func growRegressor(rows []sample, p treeParams, depth int) *node {
	var sum, sumSq float64
	for _, r := range rows {
		sum += r.y
		sumSq += r.y * r.y
	}
	n := float64(len(rows))
	leaf := &node{mean: sum / n}
	parent := sumSq - sum*sum/n

	if (p.maxDepth > 0 && depth >= p.maxDepth) || len(rows) < 2*p.minSamplesLeaf || parent <= minGain {
		return leaf
	}

	var ls, lsq float64
	best, bestAt := 0.0, -1
	for i := 0; i < len(rows)-1; i++ {
		ls += rows[i].y
		lsq += rows[i].y * rows[i].y
		if rows[i].x == rows[i+1].x {
			continue
		}
		nl := float64(i + 1)
		nr := n - nl
		if int(nl) < p.minSamplesLeaf || int(nr) < p.minSamplesLeaf {
			continue
		}
		rs, rsq := sum-ls, sumSq-lsq
		sse := (lsq - ls*ls/nl) + (rsq - rs*rs/nr)
		gain := parent - sse
		if gain > best+minGain {
			best, bestAt = gain, i
		}
	}
	if bestAt < 0 {
		return leaf
	}

	return &node{
		threshold: midpoint(rows[bestAt].x, rows[bestAt+1].x),
		left:      growRegressor(rows[:bestAt+1], p, depth+1),
		right:     growRegressor(rows[bestAt+1:], p, depth+1),
	}
}

func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	if m >= b {
		// adjacent floats
		return a
	}
	return m
}

// predictClass returns the most probable class; ties go to the lowest class.
func predictClass(probs []float64) int {
	best := 0
	for c, p := range probs {
		if p > probs[best] {
			best = c
		}
	}
	return best
}
