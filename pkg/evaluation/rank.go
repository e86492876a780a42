// Package evaluation ranks suggested locations and scores a ranking against
// a known faulty set: per-location ranks with mid-rank tie breaking, top-N
// hit rates, exam scores, and wasted effort.
package evaluation

import (
	"math/rand"
	"sort"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
)

// Scenario selects how a faulty set with several locations is judged.
type Scenario int

// Evaluation scenarios.
const (
	// ScenarioAverage averages over the faulty locations.
	ScenarioAverage Scenario = iota
	// ScenarioBestCase takes the best-ranked faulty location.
	ScenarioBestCase
	// ScenarioAvgCase takes the faulty location at sorted index n/2-1 (see
	// medianIndex); for top-N it scores the found share against half the
	// faulty set.
	ScenarioAvgCase
	// ScenarioWorstCase takes the worst-ranked faulty location.
	ScenarioWorstCase
)

// topNRepeats is the number of sampling rounds when the top group overflows N.
const topNRepeats = 1000

// Rank holds per-location ranks derived from a suggestion list. Ties share a
// group and receive the group's mid-rank: group start + (group size - 1) / 2.
type Rank struct {
	suggestions []analysis.Suggestion

	suspiciousness map[analysis.Location]float64
	locations      map[analysis.Location]float64
	effort         map[analysis.Location]int

	numberOfLocations int
	defaultRank       float64

	rng *rand.Rand
}

// rngSeed fixes the sampling sequence so evaluations are reproducible.
const rngSeed = 1

// New builds a Rank from suggestions. When totalLocations is positive it is
// used as the full location universe for default ranks and exam scores;
// otherwise the ranked locations count.
func New(suggestions []analysis.Suggestion, totalLocations int) *Rank {
	r := &Rank{
		suggestions:    sortedSuggestions(suggestions),
		suspiciousness: make(map[analysis.Location]float64),
		locations:      make(map[analysis.Location]float64),
		effort:         make(map[analysis.Location]int),
		rng:            rand.New(rand.NewSource(rngSeed)),
	}

	for _, suggestion := range r.suggestions {
		for _, loc := range suggestion.Locations {
			current, ok := r.suspiciousness[loc]
			if !ok || suggestion.Suspiciousness > current {
				r.suspiciousness[loc] = suggestion.Suspiciousness
			}
		}
	}

	r.numberOfLocations = len(r.suspiciousness)
	if totalLocations > 0 {
		r.numberOfLocations = totalLocations
	}

	r.assignRanks()

	return r
}

func sortedSuggestions(suggestions []analysis.Suggestion) []analysis.Suggestion {
	sorted := make([]analysis.Suggestion, len(suggestions))
	copy(sorted, suggestions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Suspiciousness > sorted[j].Suspiciousness
	})

	return sorted
}

// assignRanks groups locations by their (maximal) suspiciousness and assigns
// mid-ranks per group in descending score order.
func (r *Rank) assignRanks() {
	groups := make(map[float64][]analysis.Location)
	for loc, score := range r.suspiciousness {
		groups[score] = append(groups[score], loc)
	}

	scores := make([]float64, 0, len(groups))
	for score := range groups {
		scores = append(scores, score)
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	currentRank := 1

	for _, score := range scores {
		group := groups[score]

		// Mid-rank of a tie group: group start + (size-1)/2, i.e. the mean of
		// the positions the group occupies.
		rank := float64(currentRank) + float64(len(group)-1)/2
		currentRank += len(group)

		for _, loc := range group {
			r.locations[loc] = rank
			r.effort[loc] = currentRank - 1
		}
	}

	unranked := r.numberOfLocations - len(r.locations)
	r.defaultRank = float64(currentRank) + float64(unranked-1)/2
}

// Locations returns the number of ranked (or configured total) locations.
func (r *Rank) Locations() int {
	return r.numberOfLocations
}

// LocationRank returns the rank of a location, or the default rank for
// locations outside the suggestion list.
func (r *Rank) LocationRank(loc analysis.Location) float64 {
	rank, ok := r.locations[loc]
	if !ok {
		return r.defaultRank
	}

	return rank
}

// TopN reports how well the first n ranked locations cover the faulty set.
// When the top group overflows n, random n-subsets are sampled and averaged.
func (r *Rank) TopN(faulty map[analysis.Location]struct{}, n int, scenario Scenario) float64 {
	var top []analysis.Location

	seen := make(map[analysis.Location]struct{})

	for _, suggestion := range r.suggestions {
		if len(top) >= n {
			break
		}

		for _, loc := range suggestion.Locations {
			if _, dup := seen[loc]; dup {
				continue
			}

			seen[loc] = struct{}{}
			top = append(top, loc)
		}
	}

	if len(top) <= n {
		return scoreTopN(faulty, top, scenario)
	}

	var sum float64

	for range topNRepeats {
		sum += scoreTopN(faulty, r.sample(top, n), scenario)
	}

	return sum / topNRepeats
}

func (r *Rank) sample(pool []analysis.Location, n int) []analysis.Location {
	shuffled := make([]analysis.Location, len(pool))
	copy(shuffled, pool)
	r.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return shuffled[:n]
}

func scoreTopN(faulty map[analysis.Location]struct{}, top []analysis.Location, scenario Scenario) float64 {
	found := 0

	for _, loc := range top {
		if _, ok := faulty[loc]; ok {
			found++
		}
	}

	switch scenario {
	case ScenarioBestCase:
		if found > 0 {
			return 1
		}

		return 0
	case ScenarioWorstCase:
		return float64(found) / float64(len(faulty))
	case ScenarioAvgCase:
		score := float64(found) / (float64(len(faulty)) / 2)
		if score > 1 {
			return 1
		}

		return score
	default:
		if len(top) == 0 {
			return 0
		}

		return float64(found) / float64(len(top))
	}
}

// FaultyRank reduces the ranks of the faulty locations under the scenario.
func (r *Rank) FaultyRank(faulty map[analysis.Location]struct{}, scenario Scenario) float64 {
	ranks := make([]float64, 0, len(faulty))
	for loc := range faulty {
		ranks = append(ranks, r.LocationRank(loc))
	}

	sort.Float64s(ranks)

	switch scenario {
	case ScenarioBestCase:
		return ranks[0]
	case ScenarioWorstCase:
		return ranks[len(ranks)-1]
	case ScenarioAvgCase:
		return ranks[medianIndex(len(ranks))]
	default:
		var sum float64
		for _, rank := range ranks {
			sum += rank
		}

		return sum / float64(len(ranks))
	}
}

// Exam is the faulty rank normalized by the number of locations.
func (r *Rank) Exam(faulty map[analysis.Location]struct{}, scenario Scenario) float64 {
	return r.FaultyRank(faulty, scenario) / float64(r.numberOfLocations)
}

// WastedEffort counts the locations inspected until the faulty set is reached
// under the scenario, including every location of the faulty location's tie
// group. Unranked faulty locations cost the full location universe.
func (r *Rank) WastedEffort(faulty map[analysis.Location]struct{}, scenario Scenario) float64 {
	efforts := make([]int, 0, len(faulty))

	for loc := range faulty {
		effort, ok := r.effort[loc]
		if !ok {
			effort = r.numberOfLocations
		}

		efforts = append(efforts, effort)
	}

	sort.Ints(efforts)

	switch scenario {
	case ScenarioBestCase:
		return float64(efforts[0])
	case ScenarioWorstCase:
		return float64(efforts[len(efforts)-1])
	case ScenarioAvgCase:
		return float64(efforts[medianIndex(len(efforts))])
	default:
		sum := 0
		for _, effort := range efforts {
			sum += effort
		}

		return float64(sum) / float64(len(efforts))
	}
}

// medianIndex returns n/2 - 1, clamped at 0: the lower median for even n; for
// odd n above 1 it is the element just below the median.
func medianIndex(n int) int {
	idx := n/2 - 1
	if idx < 0 {
		return 0
	}

	return idx
}
