package ml

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

var rarities = []string{"Common", "Epic", "Rare"}

// rarityTable builds n monsters whose energy and sanity grow with rarity.
func rarityTable(n int) Table {
	rng := rand.New(rand.NewSource(7))
	table := make(Table, n)
	for i := range table {
		c := i % len(rarities)
		level := float64(1 + rng.Intn(20))
		base := float64(c+1) * 10
		table[i] = Record{
			Values: FeatureRow{
				"level":  level,
				"health": base*level/4 + rng.Float64()*5,
				"energy": base + rng.NormFloat64()*3,
				"sanity": base*2 + rng.NormFloat64()*4,
			},
			Labels: map[string]string{"rarity": rarities[c], "name": "monster"},
		}
	}
	return table
}

func featureRows(table Table) []FeatureRow {
	rows := make([]FeatureRow, len(table))
	for i, record := range table {
		rows[i] = record.Values
	}
	return rows
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
}

var (
	fixtureOnce sync.Once
	fixture     *Artifact
	fixtureErr  error
)

func trainedArtifact(t *testing.T) *Artifact {
	t.Helper()
	fixtureOnce.Do(func() {
		fixture, fixtureErr = Train(context.Background(), rarityTable(150), DefaultTarget, DefaultFeatures(), WithClock(fixedClock))
	})
	if fixtureErr != nil {
		t.Fatalf("train fixture: %v", fixtureErr)
	}
	return fixture
}
