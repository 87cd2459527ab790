package classifier

import (
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/model"
)

// ClassReport holds per-class precision/recall figures.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Metrics summarises predictions against true labels. Undefined ratios
// (zero denominators) are reported as 0.
type Metrics struct {
	Accuracy float64                `json:"accuracy"`
	F1       float64                `json:"f1"`
	Report   map[string]ClassReport `json:"report"`
}

// Evaluate predicts X with m and scores the result against y.
func Evaluate(m TrainedModel, X []model.FeatureRow, y []int) (Metrics, error) {
	if len(X) != len(y) {
		return Metrics{}, eris.Errorf("classifier: %d feature rows but %d labels", len(X), len(y))
	}
	pred, err := m.Predict(X)
	if err != nil {
		return Metrics{}, eris.Wrap(err, "classifier: predict for evaluation")
	}
	return Score(y, pred), nil
}

// Score compares predicted labels with true labels for the binary {0,1} case.
func Score(y, pred []int) Metrics {
	var correct int
	report := make(map[string]ClassReport, 4)
	var macro, weighted ClassReport
	for _, class := range []int{0, 1} {
		var tp, fp, fn, support int
		for i := range y {
			switch {
			case pred[i] == class && y[i] == class:
				tp++
			case pred[i] == class:
				fp++
			case y[i] == class:
				fn++
			}
			if y[i] == class {
				support++
			}
		}
		cr := ClassReport{
			Precision: ratio(tp, tp+fp),
			Recall:    ratio(tp, tp+fn),
			Support:   support,
		}
		cr.F1 = harmonic(cr.Precision, cr.Recall)
		report[strconv.Itoa(class)] = cr

		macro.Precision += cr.Precision / 2
		macro.Recall += cr.Recall / 2
		macro.F1 += cr.F1 / 2
		if len(y) > 0 {
			share := float64(support) / float64(len(y))
			weighted.Precision += cr.Precision * share
			weighted.Recall += cr.Recall * share
			weighted.F1 += cr.F1 * share
		}
	}
	for i := range y {
		if y[i] == pred[i] {
			correct++
		}
	}
	macro.Support = len(y)
	weighted.Support = len(y)
	report["macro avg"] = macro
	report["weighted avg"] = weighted

	return Metrics{
		Accuracy: ratio(correct, len(y)),
		F1:       report["1"].F1,
		Report:   report,
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}
