package scoring

import (
	"math/rand/v2"
	"sort"
)

// kFold splits n rows into k shuffled test folds whose sizes differ by at most one.
func kFold(n, k int, seed uint64) [][]int {
	rng := rand.New(rand.NewPCG(seed, 1))
	perm := rng.Perm(n)
	folds := make([][]int, k)
	for i, row := range perm {
		folds[i%k] = append(folds[i%k], row)
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

// stratifiedKFold splits rows into k test folds preserving class proportions.
// Members of each class are shuffled and dealt round robin, continuing from
// where the previous class stopped so fold sizes stay balanced.
func stratifiedKFold(labels []int, nClasses, k int, seed uint64) [][]int {
	rng := rand.New(rand.NewPCG(seed, 2))
	byClass := make([][]int, nClasses)
	for row, c := range labels {
		byClass[c] = append(byClass[c], row)
	}

	folds := make([][]int, k)
	next := 0
	for _, members := range byClass {
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		for _, row := range members {
			folds[next] = append(folds[next], row)
			next = (next + 1) % k
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

// complement returns the rows of [0, n) not in test. test must be sorted.
func complement(n int, test []int) []int {
	train := make([]int, 0, n-len(test))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(test) && test[j] == i {
			j++
			continue
		}
		train = append(train, i)
	}
	return train
}
