// Package split partitions labeled records into train and test sets.
package split

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/model"
)

// Strategy names the policy that produced a split.
type Strategy string

const (
	StrategyTemporal     Strategy = "temporal_holdout"
	StrategyStratified   Strategy = "stratified_random"
	StrategyUnstratified Strategy = "random"
)

// TestFraction is the share of records held out by the random fallback.
const TestFraction = float64(testNumerator) / testDenominator

const (
	testNumerator   = 1
	testDenominator = 5
)

// Result is a train/test partition of the input records.
type Result struct {
	Train      []model.LabeledObservation
	Test       []model.LabeledObservation
	Strategy   Strategy
	LatestYear int
}

// Split reserves the most recent year as the test set when that holdout is
// usable: both sides non-empty and the test side containing both classes.
// Otherwise it falls back to a seeded 80/20 random split, stratified by label
// when both classes are present.
func Split(records []model.LabeledObservation, seed int64) (Result, error) {
	if len(records) == 0 {
		return Result{}, eris.Wrap(model.ErrInsufficientData, "split: no records")
	}

	latest := records[0].Year
	for _, r := range records[1:] {
		if r.Year > latest {
			latest = r.Year
		}
	}

	var train, test []model.LabeledObservation
	for _, r := range records {
		if r.Year < latest {
			train = append(train, r)
		} else {
			test = append(test, r)
		}
	}
	if len(train) > 0 && len(test) > 0 && hasBothClasses(test) {
		return Result{Train: train, Test: test, Strategy: StrategyTemporal, LatestYear: latest}, nil
	}

	res := randomSplit(records, seed)
	res.LatestYear = latest
	if len(res.Train) == 0 {
		return Result{}, eris.Wrapf(model.ErrInsufficientData,
			"split: %d record(s) cannot produce a non-empty train partition", len(records))
	}
	return res, nil
}

func randomSplit(records []model.LabeledObservation, seed int64) Result {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	strata := [][]int{indices(len(records))}
	strategy := StrategyUnstratified
	if hasBothClasses(records) {
		strategy = StrategyStratified
		strata = [][]int{nil, nil}
		for i, r := range records {
			strata[r.IsTopCrop] = append(strata[r.IsTopCrop], i)
		}
	}

	quotas := allocate(testSize(len(records)), strata)
	inTest := make([]bool, len(records))
	for s, idx := range strata {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for _, i := range idx[:quotas[s]] {
			inTest[i] = true
		}
	}

	res := Result{Strategy: strategy}
	for i, r := range records {
		if inTest[i] {
			res.Test = append(res.Test, r)
		} else {
			res.Train = append(res.Train, r)
		}
	}
	return res
}

// testSize is ceil(n * TestFraction), computed in integers so that sizes
// like 35 records do not pick up a float rounding error.
func testSize(n int) int {
	return (n*testNumerator + testDenominator - 1) / testDenominator
}

// allocate spreads total test slots across strata in proportion to their size,
// handing leftover slots to the largest fractional remainders (ties to the
// earlier stratum).
func allocate(total int, strata [][]int) []int {
	n := 0
	for _, s := range strata {
		n += len(s)
	}
	quotas := make([]int, len(strata))
	if n == 0 {
		return quotas
	}
	remainders := make([]float64, len(strata))
	assigned := 0
	for i, s := range strata {
		exact := float64(total) * float64(len(s)) / float64(n)
		quotas[i] = int(math.Floor(exact))
		remainders[i] = exact - float64(quotas[i])
		assigned += quotas[i]
	}
	for assigned < total {
		best := -1
		for i := range strata {
			if quotas[i] >= len(strata[i]) {
				continue
			}
			if best < 0 || remainders[i] > remainders[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		quotas[best]++
		remainders[best] = -1
		assigned++
	}
	return quotas
}

func hasBothClasses(records []model.LabeledObservation) bool {
	var pos, neg bool
	for _, r := range records {
		if r.IsTopCrop == 1 {
			pos = true
		} else {
			neg = true
		}
		if pos && neg {
			return true
		}
	}
	return false
}

func indices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
