package classifier

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crop-advisor/internal/model"
)

func row(loc, season, crop string, price float64) model.FeatureRow {
	return model.FeatureRow{
		LocationID: loc, Season: season, CropID: crop,
		Year: 2023, TotalYield: 10, AreaHa: 2, YieldPerHectare: 5, AvgPricePerKg: price,
	}
}

// separable returns rows where high price means top crop.
func separable() ([]model.FeatureRow, []int) {
	var X []model.FeatureRow
	var y []int
	for i := 0; i < 20; i++ {
		crop := "1"
		price := 10.0 + float64(i%5)
		label := 0
		if i%2 == 0 {
			crop = "2"
			price = 40.0 + float64(i%5)
			label = 1
		}
		X = append(X, row("1", "wet", crop, price))
		y = append(y, label)
	}
	return X, y
}

func TestOneHotEncoder_UnknownCategoryIsZero(t *testing.T) {
	enc := FitOneHotEncoder(model.CategoricalColumns, []model.FeatureRow{
		row("1", "wet", "7", 0),
		row("2", "dry", "9", 0),
	})
	assert.Equal(t, 6, enc.Width())

	known := enc.Encode(nil, row("2", "wet", "7", 0))
	assert.Equal(t, []float64{0, 1, 0, 1, 1, 0}, known)

	unknown := enc.Encode(nil, row("99", "monsoon", "42", 0))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, unknown)
}

func TestOneHotEncoder_LookupWithoutIndex(t *testing.T) {
	enc := &OneHotEncoder{
		Columns:    []string{model.ColSeason},
		Categories: map[string][]string{model.ColSeason: {"dry", "wet"}},
	}
	assert.Equal(t, []float64{0, 1}, enc.Encode(nil, row("1", "wet", "1", 0)))
}

func TestStandardScaler_ConstantColumn(t *testing.T) {
	s := FitStandardScaler([]model.FeatureRow{row("1", "wet", "1", 10), row("1", "wet", "1", 30)})
	// year is constant: centered, unit scale.
	assert.Equal(t, 2023.0, s.Mean[0])
	assert.Equal(t, 1.0, s.Scale[0])
	// price: mean 20, population std 10.
	assert.InDelta(t, 20.0, s.Mean[4], 1e-9)
	assert.InDelta(t, 10.0, s.Scale[4], 1e-9)

	out := s.Transform(nil, row("1", "wet", "1", 30))
	assert.InDelta(t, 1.0, out[4], 1e-9)
}

func TestLogistic_FitSeparable(t *testing.T) {
	X, y := separable()
	m, err := NewLogistic(LogisticParams{}).Fit(context.Background(), X, y)
	require.NoError(t, err)

	probs, err := m.PredictProbability(X)
	require.NoError(t, err)
	require.Len(t, probs, len(X))
	for i, p := range probs {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
		if y[i] == 1 {
			assert.Greater(t, p, 0.5, "row %d", i)
		} else {
			assert.Less(t, p, 0.5, "row %d", i)
		}
	}

	metrics, err := Evaluate(m, X, y)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Equal(t, 1.0, metrics.F1)
}

func TestLogistic_UnknownCategoryDoesNotFail(t *testing.T) {
	X, y := separable()
	m, err := NewLogistic(LogisticParams{Iterations: 50}).Fit(context.Background(), X, y)
	require.NoError(t, err)

	probs, err := m.PredictProbability([]model.FeatureRow{row("404", "dry", "999", 42)})
	require.NoError(t, err)
	require.Len(t, probs, 1)
}

func TestLogistic_FitErrors(t *testing.T) {
	l := NewLogistic(LogisticParams{})
	_, err := l.Fit(context.Background(), nil, nil)
	require.Error(t, err)

	_, err = l.Fit(context.Background(), []model.FeatureRow{row("1", "wet", "1", 1)}, []int{1, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 feature rows but 2 labels")
}

func TestLogistic_FitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	X, y := separable()
	_, err := NewLogistic(LogisticParams{}).Fit(ctx, X, y)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogistic_Deterministic(t *testing.T) {
	X, y := separable()
	a, err := NewLogistic(LogisticParams{Iterations: 100}).Fit(context.Background(), X, y)
	require.NoError(t, err)
	b, err := NewLogistic(LogisticParams{Iterations: 100}).Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, a.(*LogisticModel).Weights, b.(*LogisticModel).Weights)
}

func TestDecode_RestoresPredictions(t *testing.T) {
	X, y := separable()
	m, err := NewLogistic(LogisticParams{Iterations: 100}).Fit(context.Background(), X, y)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	restored, err := Decode(m.Algorithm(), data)
	require.NoError(t, err)

	want, _ := m.PredictProbability(X)
	got, err := restored.PredictProbability(X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("random_forest", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown algorithm")

	_, err = Decode(AlgorithmLogistic, []byte(`{"weights":[1]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preprocessing state")

	_, err = Decode(AlgorithmLogistic, []byte(`not json`))
	require.Error(t, err)
}

func TestBalancedWeights(t *testing.T) {
	w := balancedWeights([]int{1, 0, 0, 0})
	assert.InDelta(t, 2.0, w[0], 1e-9)
	assert.InDelta(t, 4.0/6.0, w[1], 1e-9)
}

func TestScore(t *testing.T) {
	y := []int{1, 1, 0, 0, 0}
	pred := []int{1, 0, 0, 0, 1}
	m := Score(y, pred)

	assert.InDelta(t, 0.6, m.Accuracy, 1e-9)
	assert.InDelta(t, 0.5, m.Report["1"].Precision, 1e-9)
	assert.InDelta(t, 0.5, m.Report["1"].Recall, 1e-9)
	assert.InDelta(t, 0.5, m.F1, 1e-9)
	assert.Equal(t, 2, m.Report["1"].Support)
	assert.Equal(t, 3, m.Report["0"].Support)
	assert.InDelta(t, 2.0/3.0, m.Report["0"].Recall, 1e-9)
	assert.Equal(t, 5, m.Report["macro avg"].Support)
}

func TestScore_NoPositivePredictions(t *testing.T) {
	m := Score([]int{1, 0}, []int{0, 0})
	assert.Equal(t, 0.0, m.F1)
	assert.Equal(t, 0.0, m.Report["1"].Precision)
}
