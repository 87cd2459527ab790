// Package classifier holds the classification capability the pipeline trains
// and serves, plus the default logistic regression implementation.
package classifier

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/model"
)

// Classifier fits a model from feature rows and binary labels.
type Classifier interface {
	Fit(ctx context.Context, X []model.FeatureRow, y []int) (TrainedModel, error)
}

// TrainedModel scores feature rows. PredictProbability returns the positive
// class probability for each row, index-aligned with X.
type TrainedModel interface {
	Algorithm() string
	PredictProbability(X []model.FeatureRow) ([]float64, error)
	Predict(X []model.FeatureRow) ([]int, error)
}

// DecodeFunc rebuilds a trained model from its persisted JSON form.
type DecodeFunc func(data []byte) (TrainedModel, error)

var decoders = map[string]DecodeFunc{
	AlgorithmLogistic: decodeLogistic,
}

// Decode rebuilds a persisted model for the named algorithm.
func Decode(algorithm string, data []byte) (TrainedModel, error) {
	dec, ok := decoders[algorithm]
	if !ok {
		return nil, eris.Errorf("classifier: unknown algorithm %q (known: %v)", algorithm, Algorithms())
	}
	return dec(data)
}

// Algorithms lists the algorithms Decode understands.
func Algorithms() []string {
	names := make([]string, 0, len(decoders))
	for n := range decoders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func decodeLogistic(data []byte) (TrainedModel, error) {
	var m LogisticModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "classifier: decode logistic model")
	}
	if m.Encoder == nil || m.Scaler == nil {
		return nil, eris.New("classifier: logistic model is missing its preprocessing state")
	}
	if len(m.Weights) != m.Encoder.Width()+len(m.Scaler.Mean) {
		return nil, eris.Errorf("classifier: logistic model has %d weights, preprocessing produces %d",
			len(m.Weights), m.Encoder.Width()+len(m.Scaler.Mean))
	}
	m.Encoder.buildIndex()
	return &m, nil
}
