package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DecisionTree is a CART classifier stored as a flat node slice in pre-order.
// Leaves carry the class distribution of the training samples that reached
// them.
type DecisionTree struct {
	nodes     []TreeNode
	nClasses  int
	nFeatures int
}

// TreeNode is either a split on FeatureIdx at Threshold or a leaf holding a class distribution.
type TreeNode struct {
	FeatureIdx int
	Threshold  float64
	LeftChild  int
	RightChild int
	IsLeaf     bool
	Value      []float64
}

type treeParams struct {
	maxDepth    int
	maxFeatures int
}

// train fits the tree on every row with unit weight, considering all features
// at each split.
func (dt *DecisionTree) train(features [][]float64, labels []int, nClasses, maxDepth int) error {
	if len(features) == 0 {
		return errors.New("features or labels empty")
	}
	weights := make([]float64, len(features))
	for i := range weights {
		weights[i] = 1
	}
	params := treeParams{maxDepth: maxDepth, maxFeatures: len(features[0])}
	return dt.fit(features, labels, weights, nClasses, params, rand.New(rand.NewSource(DefaultSeed)))
}

// predict returns the most probable class of the row and its probability.
func (dt *DecisionTree) predict(features []float64) (int, float64, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := floats.MaxIdx(proba)
	return label, proba[label], nil
}

// PredictProba returns the class distribution of the leaf the row falls in.
// The returned slice belongs to the tree and must not be modified.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	if len(dt.nodes) == 0 {
		return nil, ErrNotFitted
	}
	if len(features) != dt.nFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrSchema, len(features), dt.nFeatures)
	}
	return dt.leaf(features).Value, nil
}

// depth returns the length of the longest root to leaf path.
func (dt *DecisionTree) depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	return dt.depthFrom(0)
}

func (dt *DecisionTree) depthFrom(idx int) int {
	node := dt.nodes[idx]
	if node.IsLeaf {
		return 0
	}
	left, right := dt.depthFrom(node.LeftChild), dt.depthFrom(node.RightChild)
	if left > right {
		return left + 1
	}
	return right + 1
}

func (dt *DecisionTree) leaf(features []float64) *TreeNode {
	idx := 0
	for {
		node := &dt.nodes[idx]
		if node.IsLeaf {
			return node
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, weights []float64, nClasses int, params treeParams, rng *rand.Rand) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) || len(features) != len(weights) {
		return errors.New("features and labels size mismatch")
	}
	if params.maxDepth <= 0 {
		params.maxDepth = 3
	}
	nFeatures := len(features[0])
	if params.maxFeatures <= 0 || params.maxFeatures > nFeatures {
		params.maxFeatures = nFeatures
	}

	samples := make([]int, 0, len(features))
	for i, w := range weights {
		if w > 0 {
			samples = append(samples, i)
		}
	}
	if len(samples) == 0 {
		return errors.New("all sample weights are zero")
	}

	b := &treeBuilder{
		features:  features,
		labels:    labels,
		weights:   weights,
		nClasses:  nClasses,
		nFeatures: nFeatures,
		params:    params,
		rng:       rng,
	}
	b.build(samples, 0)

	dt.nodes = b.nodes
	dt.nClasses = nClasses
	dt.nFeatures = nFeatures
	return nil
}

type treeBuilder struct {
	features  [][]float64
	labels    []int
	weights   []float64
	nClasses  int
	nFeatures int
	params    treeParams
	rng       *rand.Rand
	nodes     []TreeNode
}

// build appends the subtree over samples and returns the index of its root.
func (b *treeBuilder) build(samples []int, depth int) int {
	counts, total := b.classCounts(samples)
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{})

	if depth >= b.params.maxDepth || len(samples) < 2 || isPure(counts) {
		b.nodes[idx] = leafNode(counts, total)
		return idx
	}

	feature, threshold, ok := b.findBestSplit(samples, counts, total)
	if !ok {
		b.nodes[idx] = leafNode(counts, total)
		return idx
	}

	left, right := b.partition(samples, feature, threshold)
	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)
	b.nodes[idx] = TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  leftIdx,
		RightChild: rightIdx,
	}
	return idx
}

// findBestSplit draws features in random order and evaluates every threshold
// between distinct consecutive values until maxFeatures non-constant
// features have been examined.
func (b *treeBuilder) findBestSplit(samples []int, counts []float64, total float64) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.Inf(1)

	sorted := make([]int, len(samples))
	leftCounts := make([]float64, b.nClasses)
	rightCounts := make([]float64, b.nClasses)

	visited := 0
	for _, feature := range b.rng.Perm(b.nFeatures) {
		if visited >= b.params.maxFeatures {
			break
		}
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool {
			return b.features[sorted[i]][feature] < b.features[sorted[j]][feature]
		})
		if b.features[sorted[0]][feature] == b.features[sorted[len(sorted)-1]][feature] {
			continue
		}
		visited++

		for k := range leftCounts {
			leftCounts[k] = 0
		}
		leftWeight := 0.0
		for i := 0; i < len(sorted)-1; i++ {
			s := sorted[i]
			leftCounts[b.labels[s]] += b.weights[s]
			leftWeight += b.weights[s]

			current := b.features[s][feature]
			next := b.features[sorted[i+1]][feature]
			if current == next {
				continue
			}
			for k := range rightCounts {
				rightCounts[k] = counts[k] - leftCounts[k]
			}
			rightWeight := total - leftWeight
			impurity := leftWeight*gini(leftCounts, leftWeight) + rightWeight*gini(rightCounts, rightWeight)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = current + (next-current)/2
				if bestThreshold >= next {
					bestThreshold = current
				}
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) partition(samples []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if b.features[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

func (b *treeBuilder) classCounts(samples []int) ([]float64, float64) {
	counts := make([]float64, b.nClasses)
	total := 0.0
	for _, s := range samples {
		counts[b.labels[s]] += b.weights[s]
		total += b.weights[s]
	}
	return counts, total
}

func leafNode(counts []float64, total float64) TreeNode {
	value := make([]float64, len(counts))
	for k, c := range counts {
		value[k] = c / total
	}
	return TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		IsLeaf:     true,
		Value:      value,
	}
}

func gini(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / total
		impurity -= p * p
	}
	return impurity
}

func isPure(counts []float64) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func (dt *DecisionTree) encode(w *binaryWriter) {
	w.putUint32(uint32(len(dt.nodes)))
	for _, node := range dt.nodes {
		if node.IsLeaf {
			w.putUint8(1)
			w.putFloat64s(node.Value)
			continue
		}
		w.putUint8(0)
		w.putInt32(node.FeatureIdx)
		w.putFloat64(node.Threshold)
		w.putInt32(node.LeftChild)
		w.putInt32(node.RightChild)
	}
}

// decodeTree reads a tree and checks that every child index points forward
// within the node slice, so a walk from the root always ends in a leaf.
func decodeTree(r *binaryReader, nClasses, nFeatures int) (*DecisionTree, error) {
	n := r.length(1)
	if r.err != nil {
		return nil, r.err
	}
	if n == 0 {
		return nil, errors.New("tree has no nodes")
	}
	nodes := make([]TreeNode, n)
	for i := range nodes {
		switch r.uint8() {
		case 1:
			value := r.float64s()
			if r.err == nil && len(value) != nClasses {
				return nil, fmt.Errorf("node %d: %d class values, want %d", i, len(value), nClasses)
			}
			nodes[i] = TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, IsLeaf: true, Value: value}
		case 0:
			node := TreeNode{
				FeatureIdx: r.int32(),
				Threshold:  r.float64(),
				LeftChild:  r.int32(),
				RightChild: r.int32(),
			}
			if r.err != nil {
				break
			}
			if node.FeatureIdx < 0 || node.FeatureIdx >= nFeatures {
				return nil, fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
			}
			if node.LeftChild <= i || node.LeftChild >= n || node.RightChild <= i || node.RightChild >= n {
				return nil, fmt.Errorf("node %d: child index out of range", i)
			}
			nodes[i] = node
		default:
			if r.err == nil {
				return nil, fmt.Errorf("node %d: unknown node kind", i)
			}
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	return &DecisionTree{nodes: nodes, nClasses: nClasses, nFeatures: nFeatures}, nil
}
