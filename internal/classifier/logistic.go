package classifier

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/model"
)

// AlgorithmLogistic identifies LogisticModel artifacts.
const AlgorithmLogistic = "logistic_regression"

// LogisticParams tunes batch gradient descent.
type LogisticParams struct {
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	L2           float64 `json:"l2"`
}

// DefaultLogisticParams returns the training defaults.
func DefaultLogisticParams() LogisticParams {
	return LogisticParams{Iterations: 500, LearningRate: 0.5, L2: 0.001}
}

// Logistic trains a LogisticModel with class-balanced sample weights.
type Logistic struct {
	params LogisticParams
}

// NewLogistic creates a trainer. Zero-valued params fall back to defaults.
func NewLogistic(p LogisticParams) *Logistic {
	d := DefaultLogisticParams()
	if p.Iterations <= 0 {
		p.Iterations = d.Iterations
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.L2 < 0 {
		p.L2 = 0
	}
	return &Logistic{params: p}
}

// Params returns the effective training parameters.
func (l *Logistic) Params() LogisticParams { return l.params }

// Fit encodes X and runs full-batch gradient descent on the weighted log loss.
// Starting from zero weights, training is deterministic.
func (l *Logistic) Fit(ctx context.Context, X []model.FeatureRow, y []int) (TrainedModel, error) {
	if len(X) == 0 {
		return nil, eris.New("classifier: cannot fit on zero rows")
	}
	if len(X) != len(y) {
		return nil, eris.Errorf("classifier: %d feature rows but %d labels", len(X), len(y))
	}

	m := &LogisticModel{
		Encoder: FitOneHotEncoder(model.CategoricalColumns, X),
		Scaler:  FitStandardScaler(X),
		Params:  l.params,
	}
	vecs := m.vectorize(X)
	width := m.Encoder.Width() + len(m.Scaler.Mean)
	m.Weights = make([]float64, width)

	sw := balancedWeights(y)
	var total float64
	for _, w := range sw {
		total += w
	}

	grad := make([]float64, width)
	for it := 0; it < l.params.Iterations; it++ {
		if it%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "classifier: fit cancelled")
			}
		}
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, v := range vecs {
			diff := sw[i] * (sigmoid(m.linear(v)) - float64(y[i]))
			for j, x := range v {
				grad[j] += diff * x
			}
			gradBias += diff
		}
		for j := range m.Weights {
			m.Weights[j] -= l.params.LearningRate * (grad[j]/total + l.params.L2*m.Weights[j])
		}
		m.Bias -= l.params.LearningRate * gradBias / total
	}

	zap.L().Debug("classifier: logistic model fitted",
		zap.Int("rows", len(X)),
		zap.Int("width", width),
		zap.Int("iterations", l.params.Iterations),
	)
	return m, nil
}

// balancedWeights gives each class the same total weight: n / (classes * n_c).
func balancedWeights(y []int) []float64 {
	counts := map[int]int{}
	for _, v := range y {
		counts[v]++
	}
	n := float64(len(y))
	k := float64(len(counts))
	w := make([]float64, len(y))
	for i, v := range y {
		w[i] = n / (k * float64(counts[v]))
	}
	return w
}

// LogisticModel is a fitted logistic regression with its preprocessing state.
type LogisticModel struct {
	Encoder *OneHotEncoder  `json:"encoder"`
	Scaler  *StandardScaler `json:"scaler"`
	Weights []float64       `json:"weights"`
	Bias    float64         `json:"bias"`
	Params  LogisticParams  `json:"params"`
}

func (m *LogisticModel) Algorithm() string { return AlgorithmLogistic }

// PredictProbability returns P(top crop) for each row.
func (m *LogisticModel) PredictProbability(X []model.FeatureRow) ([]float64, error) {
	out := make([]float64, len(X))
	for i, v := range m.vectorize(X) {
		if len(v) != len(m.Weights) {
			return nil, eris.Errorf("classifier: row %d has %d features, model expects %d", i, len(v), len(m.Weights))
		}
		out[i] = sigmoid(m.linear(v))
	}
	return out, nil
}

// Predict thresholds PredictProbability at 0.5.
func (m *LogisticModel) Predict(X []model.FeatureRow) ([]int, error) {
	probs, err := m.PredictProbability(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probs))
	for i, p := range probs {
		if p >= 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

func (m *LogisticModel) vectorize(X []model.FeatureRow) [][]float64 {
	vecs := make([][]float64, len(X))
	width := m.Encoder.Width() + len(m.Scaler.Mean)
	for i, row := range X {
		v := make([]float64, 0, width)
		v = m.Encoder.Encode(v, row)
		v = m.Scaler.Transform(v, row)
		vecs[i] = v
	}
	return vecs
}

func (m *LogisticModel) linear(v []float64) float64 {
	z := m.Bias
	for j, x := range v {
		z += m.Weights[j] * x
	}
	return z
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
