// Package labeling derives the supervised "top crop" signal for training.
package labeling

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/model"
)

// Summary describes the label distribution produced by Label.
type Summary struct {
	Records   int `json:"records"`
	Groups    int `json:"groups"`
	Positives int `json:"positives"`
	// TieGroups counts groups with more than one record at the maximum revenue.
	TieGroups int `json:"tie_groups"`
}

// Label marks every observation whose expected revenue reaches the maximum of its
// (location, year, season) group. All records tied at the maximum are positive.
// The output preserves input order.
func Label(obs []model.Observation) ([]model.LabeledObservation, error) {
	out, _, err := LabelWithSummary(obs)
	return out, err
}

// LabelWithSummary is Label plus a description of the resulting labels.
func LabelWithSummary(obs []model.Observation) ([]model.LabeledObservation, Summary, error) {
	groups := make(map[model.GroupKey][]int)
	for i, o := range obs {
		k := o.Group()
		groups[k] = append(groups[k], i)
	}

	out := make([]model.LabeledObservation, len(obs))
	sum := Summary{Records: len(obs), Groups: len(groups)}

	for _, members := range groups {
		maxRevenue := obs[members[0]].ExpectedRevenue
		for _, i := range members[1:] {
			if obs[i].ExpectedRevenue > maxRevenue {
				maxRevenue = obs[i].ExpectedRevenue
			}
		}

		top := 0
		for _, i := range members {
			label := 0
			if obs[i].ExpectedRevenue >= maxRevenue {
				label = 1
				top++
			}
			out[i] = model.LabeledObservation{Observation: obs[i], IsTopCrop: label}
		}
		sum.Positives += top
		if top > 1 {
			sum.TieGroups++
		}
	}

	if sum.Positives == 0 {
		return nil, sum, eris.Wrap(model.ErrNoPositiveLabels, "labeling: zero positive samples, check data quality")
	}
	return out, sum, nil
}

// Labels extracts the label column.
func Labels(records []model.LabeledObservation) []int {
	y := make([]int, len(records))
	for i, r := range records {
		y[i] = r.IsTopCrop
	}
	return y
}

// Observations strips labels.
func Observations(records []model.LabeledObservation) []model.Observation {
	obs := make([]model.Observation, len(records))
	for i, r := range records {
		obs[i] = r.Observation
	}
	return obs
}
