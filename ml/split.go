package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split holds disjoint row indices into the table it was computed from.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions labels into train and test indices so that each
// label keeps roughly its share of the whole in both subsets. The test subset
// has ceil(testSize*n) rows. The same labels, testSize and seed always
// produce the same split.
func StratifiedSplit(labels []string, testSize float64, seed int64) (Split, error) {
	n := len(labels)
	if testSize <= 0 || testSize >= 1 {
		return Split{}, fmt.Errorf("test size %v outside (0, 1)", testSize)
	}
	if n == 0 {
		return Split{}, fmt.Errorf("%w: empty table", ErrInsufficientData)
	}

	classes := DistinctLabels(labels)
	members := make(map[string][]int, len(classes))
	for i, label := range labels {
		members[label] = append(members[label], i)
	}
	for _, class := range classes {
		if len(members[class]) < 2 {
			return Split{}, fmt.Errorf("%w: class %q has %d row(s), need at least 2",
				ErrInsufficientData, class, len(members[class]))
		}
	}

	nTest := int(math.Ceil(testSize*float64(n) - 1e-9))
	nTrain := n - nTest
	if nTest < len(classes) || nTrain < len(classes) {
		return Split{}, fmt.Errorf("%w: %d train and %d test rows cannot hold %d classes",
			ErrInsufficientData, nTrain, nTest, len(classes))
	}

	counts := make([]int, len(classes))
	for i, class := range classes {
		counts[i] = len(members[class])
	}
	allocation := allocate(counts, n, nTest)

	rng := rand.New(rand.NewSource(seed))
	split := Split{
		Train: make([]int, 0, nTrain),
		Test:  make([]int, 0, nTest),
	}
	for i, class := range classes {
		rows := members[class]
		order := rng.Perm(len(rows))
		for j, k := range order {
			if j < allocation[i] {
				split.Test = append(split.Test, rows[k])
			} else {
				split.Train = append(split.Train, rows[k])
			}
		}
	}
	rng.Shuffle(len(split.Train), func(i, j int) {
		split.Train[i], split.Train[j] = split.Train[j], split.Train[i]
	})
	rng.Shuffle(len(split.Test), func(i, j int) {
		split.Test[i], split.Test[j] = split.Test[j], split.Test[i]
	})
	return split, nil
}

// allocate distributes draws across classes in proportion to counts using
// the largest remainder method. Ties go to the earlier class.
func allocate(counts []int, total, draws int) []int {
	allocation := make([]int, len(counts))
	remainders := make([]float64, len(counts))
	assigned := 0
	for i, count := range counts {
		exact := float64(count) * float64(draws) / float64(total)
		allocation[i] = int(math.Floor(exact))
		remainders[i] = exact - float64(allocation[i])
		assigned += allocation[i]
	}

	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	// Keep one row of every class on the train side when possible.
	for _, reserve := range []int{1, 0} {
		for _, i := range order {
			if assigned >= draws {
				return allocation
			}
			if allocation[i] < counts[i]-reserve {
				allocation[i]++
				assigned++
			}
		}
	}
	return allocation
}
