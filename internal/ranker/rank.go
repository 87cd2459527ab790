// Package ranker turns scored observations into capped, ranked crop
// recommendations per location and season.
package ranker

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/crop-advisor/internal/model"
)

// Caller-side bounds for top_k.
const (
	DefaultTopK = 3
	MinTopK     = 1
	MaxTopK     = 10
)

// Display precision applied after ranking.
const (
	probabilityDecimals = 6
	scoreDecimals       = 2
)

type groupKey struct {
	locationID int
	season     string
}

// Rank keeps only the most recent year, groups by (location, season), orders
// each group by probability then expected revenue (both descending, crop id
// ascending as the final tie-break) and keeps the first topK. Rounding for
// display happens after ordering, so ranking always sees full precision.
func Rank(scored []model.ScoredObservation, topK int) ([]model.Recommendation, error) {
	if topK <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidTopK, "ranker: top_k must be positive (got %d)", topK)
	}
	if len(scored) == 0 {
		return nil, eris.Wrap(model.ErrEmptyGroup, "ranker: no scored records")
	}

	latest := scored[0].Year
	for _, s := range scored[1:] {
		if s.Year > latest {
			latest = s.Year
		}
	}

	groups := make(map[groupKey][]model.ScoredObservation)
	for _, s := range scored {
		if s.Year != latest {
			continue
		}
		k := groupKey{locationID: s.LocationID, season: s.Season}
		groups[k] = append(groups[k], s)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].locationID != keys[j].locationID {
			return keys[i].locationID < keys[j].locationID
		}
		return keys[i].season < keys[j].season
	})

	var out []model.Recommendation
	for _, k := range keys {
		members := groups[k]
		sort.SliceStable(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if a.Probability != b.Probability {
				return a.Probability > b.Probability
			}
			if a.ExpectedRevenue != b.ExpectedRevenue {
				return a.ExpectedRevenue > b.ExpectedRevenue
			}
			return a.CropID < b.CropID
		})
		if len(members) > topK {
			members = members[:topK]
		}
		for i, s := range members {
			out = append(out, model.Recommendation{
				Rank:            i + 1,
				LocationID:      s.LocationID,
				LocationName:    s.LocationName,
				CropID:          s.CropID,
				CropName:        s.CropName,
				Probability:     Round(s.Probability, probabilityDecimals),
				Score:           Round(s.Probability*100, scoreDecimals),
				ExpectedRevenue: s.ExpectedRevenue,
				Year:            s.Year,
				Season:          s.Season,
				SeasonLabel:     SeasonLabel(s.Season),
			})
		}
	}
	return out, nil
}

// ClampTopK bounds a requested top_k to [MinTopK, MaxTopK]; zero means "unset"
// and yields DefaultTopK.
func ClampTopK(k int) int {
	switch {
	case k == 0:
		return DefaultTopK
	case k < MinTopK:
		return MinTopK
	case k > MaxTopK:
		return MaxTopK
	}
	return k
}

// SeasonLabel is the display form of a normalized season ("wet" -> "Wet").
func SeasonLabel(season string) string {
	return cases.Title(language.Und).String(season)
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
