package monster

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

var (
	// Rarities from most to least common.
	Rarities = []string{"Rank 0", "Rank 1", "Rank 2", "Rank 3", "Rank 4", "Rank 5"}
	Types    = []string{"Demonic", "Devilkin", "Dragon", "Elemental", "Undead", "Beast", "Fey"}

	rarityWeights = []int{32, 24, 18, 12, 9, 5}
	dieSides      = []int{4, 6, 8, 10, 12, 20}

	namePrefixes = []string{"Ash", "Bone", "Dread", "Frost", "Grim", "Hollow", "Iron", "Night", "Storm", "Venom"}
	nameSuffixes = map[string][]string{
		"Demonic":   {"Fiend", "Imp", "Succubus", "Pit Lord"},
		"Devilkin":  {"Goblin", "Gremlin", "Kobold", "Ogre"},
		"Dragon":    {"Wyrm", "Drake", "Wyvern", "Dragon"},
		"Elemental": {"Golem", "Wisp", "Djinn", "Shade"},
		"Undead":    {"Ghoul", "Lich", "Wraith", "Zombie"},
		"Beast":     {"Wolf", "Basilisk", "Chimera", "Manticore"},
		"Fey":       {"Sprite", "Pixie", "Dryad", "Banshee"},
	}
)

// Generator produces random monsters whose stats grow with level and rank.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator returns a generator that produces the same monsters for the same seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// Monster draws one random monster.
func (g *Generator) Monster() Monster {
	g.mu.Lock()
	defer g.mu.Unlock()

	rank := g.weightedRank()
	kind := Types[g.rng.Intn(len(Types))]
	level := MinLevel + g.rng.Intn(MaxLevel-MinLevel+1)
	scale := float64(level) * (1 + float64(rank)*0.5)

	suffixes := nameSuffixes[kind]
	name := namePrefixes[g.rng.Intn(len(namePrefixes))] + " " + suffixes[g.rng.Intn(len(suffixes))]

	dice := level/4 + 1
	bonus := rank + g.rng.Intn(level+1)
	return Monster{
		Name:      name,
		Type:      kind,
		Level:     level,
		Rarity:    Rarities[rank],
		Damage:    fmt.Sprintf("%dd%d+%d", dice, dieSides[rank], bonus),
		Health:    round2(scale * (4 + g.rng.Float64()*2)),
		Energy:    round2(scale * (2 + g.rng.Float64())),
		Sanity:    round2(scale * (1 + g.rng.Float64())),
		TimeStamp: g.now().Format(TimeStampLayout),
	}
}

func (g *Generator) Monsters(n int) []Monster {
	monsters := make([]Monster, n)
	for i := range monsters {
		monsters[i] = g.Monster()
	}
	return monsters
}

func (g *Generator) weightedRank() int {
	total := 0
	for _, w := range rarityWeights {
		total += w
	}
	pick := g.rng.Intn(total)
	for rank, w := range rarityWeights {
		if pick < w {
			return rank
		}
		pick -= w
	}
	return len(rarityWeights) - 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
