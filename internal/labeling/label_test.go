package labeling

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crop-advisor/internal/features"
	"github.com/sells-group/crop-advisor/internal/model"
)

func obs(loc, crop, year int, season string, revenue float64) model.Observation {
	return model.Observation{LocationID: loc, CropID: crop, Year: year, Season: season, ExpectedRevenue: revenue}
}

func TestLabel_PicksGroupMaximum(t *testing.T) {
	records, err := Label([]model.Observation{
		obs(1, 7, 2024, "wet", 40),
		obs(1, 9, 2024, "wet", 75),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, records[0].IsTopCrop)
	assert.Equal(t, 1, records[1].IsTopCrop)
}

func TestLabel_EngineeredRowsWithoutYieldPerHectare(t *testing.T) {
	batch := model.NewRawBatch([]model.RawRow{
		{LocationID: 1, CropID: 7, Year: 2024, Season: "Wet", TotalYield: model.Float(4), AreaHa: model.Float(2), AvgPricePerKg: model.Float(20)},
		{LocationID: 1, CropID: 9, Year: 2024, Season: "Wet", TotalYield: model.Float(3), AreaHa: model.Float(1), AvgPricePerKg: model.Float(25)},
	})
	engineered, err := features.Engineer(batch)
	require.NoError(t, err)

	records, err := Label(engineered)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, records[0].ExpectedRevenue, 1e-9)
	assert.InDelta(t, 75.0, records[1].ExpectedRevenue, 1e-9)
	assert.Equal(t, []int{0, 1}, Labels(records))
}

func TestLabel_TiesAreAllPositive(t *testing.T) {
	records, sum, err := LabelWithSummary([]model.Observation{
		obs(1, 1, 2024, "dry", 50),
		obs(1, 2, 2024, "dry", 50),
		obs(1, 3, 2024, "dry", 10),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0}, Labels(records))
	assert.Equal(t, 2, sum.Positives)
	assert.Equal(t, 1, sum.TieGroups)
	assert.Equal(t, 1, sum.Groups)
}

func TestLabel_GroupsAreIndependent(t *testing.T) {
	input := []model.Observation{
		obs(1, 1, 2023, "wet", 10),
		obs(1, 2, 2023, "wet", 20),
		obs(1, 1, 2023, "dry", 30),
		obs(1, 2, 2023, "dry", 5),
		obs(2, 1, 2023, "wet", 1),
		obs(1, 1, 2024, "wet", 99),
	}
	records, sum, err := LabelWithSummary(input)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 0, 1, 1}, Labels(records))
	assert.Equal(t, 4, sum.Groups)

	// Every group has at least one positive.
	positives := map[model.GroupKey]int{}
	for _, r := range records {
		positives[r.Group()] += r.IsTopCrop
	}
	for k, n := range positives {
		assert.GreaterOrEqual(t, n, 1, "group %+v has no positive", k)
	}
}

func TestLabel_OrderIndependent(t *testing.T) {
	a := []model.Observation{obs(1, 1, 2024, "wet", 3), obs(1, 2, 2024, "wet", 8), obs(1, 3, 2024, "wet", 8)}
	b := []model.Observation{a[2], a[0], a[1]}

	ra, err := Label(a)
	require.NoError(t, err)
	rb, err := Label(b)
	require.NoError(t, err)

	byCrop := func(rs []model.LabeledObservation) map[int]int {
		m := map[int]int{}
		for _, r := range rs {
			m[r.CropID] = r.IsTopCrop
		}
		return m
	}
	assert.Equal(t, byCrop(ra), byCrop(rb))
}

func TestLabel_EmptyInputHasNoPositives(t *testing.T) {
	_, err := Label(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNoPositiveLabels))
}

func TestLabel_AllZeroRevenueStillLabelsTies(t *testing.T) {
	// Zero revenue everywhere ties every record at the maximum.
	records, err := Label([]model.Observation{obs(1, 1, 2024, "wet", 0), obs(1, 2, 2024, "wet", 0)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, Labels(records))
}

func TestObservations_StripsLabels(t *testing.T) {
	in := []model.LabeledObservation{{Observation: obs(5, 6, 2020, "dry", 1), IsTopCrop: 1}}
	out := Observations(in)
	require.Len(t, out, 1)
	assert.Equal(t, 5, out[0].LocationID)
}
