package ml

import (
	"fmt"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Classifier{
		forestKind: func() Classifier { return NewRandomForest(DefaultForestConfig()) },
	}
)

// RegisterClassifier makes a classifier implementation decodable from
// artifacts that name kind.
func RegisterClassifier(kind string, factory func() Classifier) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

func newClassifier(kind string) (Classifier, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported model type %q", kind)
	}
	return factory(), nil
}
