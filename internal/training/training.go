// Package training runs the offline batch: fetch, engineer, label, split,
// fit, evaluate, preview, and persist.
package training

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/artifact"
	"github.com/sells-group/crop-advisor/internal/classifier"
	"github.com/sells-group/crop-advisor/internal/features"
	"github.com/sells-group/crop-advisor/internal/labeling"
	"github.com/sells-group/crop-advisor/internal/model"
	"github.com/sells-group/crop-advisor/internal/ranker"
	"github.com/sells-group/crop-advisor/internal/source"
	"github.com/sells-group/crop-advisor/internal/split"
)

// Params configures one training run.
type Params struct {
	Years       int
	Seed        int64
	Logistic    classifier.LogisticParams
	SaveDir     string
	PreviewTopK int
	Input       string
}

// RunParams converts p into the record stored with the run and the artifact.
func (p Params) RunParams() model.RunParams {
	return model.RunParams{
		Years:        p.Years,
		Seed:         p.Seed,
		Iterations:   p.Logistic.Iterations,
		LearningRate: p.Logistic.LearningRate,
		L2:           p.Logistic.L2,
		Input:        p.Input,
	}
}

// Result is the outcome of a successful run.
type Result struct {
	Paths    artifact.Paths
	Metadata artifact.Metadata
	Split    split.Strategy
	Preview  []model.Recommendation
	Train    int
	Test     int
}

// RunResult summarises r for run history.
func (r *Result) RunResult() *model.RunResult {
	t := r.Metadata.Training
	return &model.RunResult{
		Records:       t.Records,
		TrainRecords:  r.Train,
		TestRecords:   r.Test,
		SplitStrategy: string(r.Split),
		TestAccuracy:  t.TestMetrics.Accuracy,
		TestF1:        t.TestMetrics.F1,
		ModelPath:     r.Paths.Model,
		MetadataPath:  r.Paths.Metadata,
	}
}

// Trainer wires a data source and classifier into the training batch.
type Trainer struct {
	Source     source.TrainingSource
	Classifier classifier.Classifier
	Now        func() time.Time

	log *zap.Logger
}

// New creates a Trainer. A nil classifier defaults to logistic regression
// configured from the run params at Run time.
func New(src source.TrainingSource, clf classifier.Classifier) *Trainer {
	return &Trainer{
		Source:     src,
		Classifier: clf,
		Now:        time.Now,
		log:        zap.L().With(zap.String("component", "training")),
	}
}

// Run fetches the year window from the source and trains on it.
func (t *Trainer) Run(ctx context.Context, p Params) (*Result, error) {
	if p.Years < source.MinTrainingYears {
		p.Years = source.MinTrainingYears
	}

	minYear, err := t.Source.YearThreshold(ctx, p.Years)
	if err != nil {
		return nil, eris.Wrap(err, "training: resolve year window")
	}
	batch, err := t.Source.TrainingRows(ctx, minYear)
	if err != nil {
		return nil, eris.Wrap(err, "training: fetch rows")
	}
	t.logger().Info("training: rows loaded",
		zap.Int("rows", len(batch.Rows)),
		zap.Int("min_year", minYear),
		zap.Int("years", p.Years),
	)
	return t.Fit(ctx, batch, p)
}

// Fit trains on an already-fetched batch.
func (t *Trainer) Fit(ctx context.Context, batch model.RawBatch, p Params) (*Result, error) {
	log := t.logger()

	obs, err := features.Engineer(batch)
	if err != nil {
		return nil, eris.Wrap(err, "training: engineer features")
	}

	labeled, summary, err := labeling.LabelWithSummary(obs)
	if err != nil {
		return nil, eris.Wrap(err, "training: label")
	}
	log.Info("training: labels assigned",
		zap.Int("records", summary.Records),
		zap.Int("groups", summary.Groups),
		zap.Int("positives", summary.Positives),
		zap.Int("tie_groups", summary.TieGroups),
	)

	parts, err := split.Split(labeled, p.Seed)
	if err != nil {
		return nil, eris.Wrap(err, "training: split")
	}
	log.Info("training: dataset split",
		zap.String("strategy", string(parts.Strategy)),
		zap.Int("train", len(parts.Train)),
		zap.Int("test", len(parts.Test)),
		zap.Int("latest_year", parts.LatestYear),
	)

	clf := t.Classifier
	if clf == nil {
		clf = classifier.NewLogistic(p.Logistic)
	}

	xTrain, yTrain := design(parts.Train)
	trained, err := clf.Fit(ctx, xTrain, yTrain)
	if err != nil {
		return nil, eris.Wrap(err, "training: fit")
	}

	trainMetrics, err := classifier.Evaluate(trained, xTrain, yTrain)
	if err != nil {
		return nil, eris.Wrap(err, "training: evaluate train")
	}
	xTest, yTest := design(parts.Test)
	testMetrics, err := classifier.Evaluate(trained, xTest, yTest)
	if err != nil {
		return nil, eris.Wrap(err, "training: evaluate test")
	}
	log.Info("training: model evaluated",
		zap.Float64("train_accuracy", trainMetrics.Accuracy),
		zap.Float64("test_accuracy", testMetrics.Accuracy),
		zap.Float64("test_f1", testMetrics.F1),
	)

	topK := p.PreviewTopK
	if topK <= 0 {
		topK = ranker.DefaultTopK
	}
	preview, err := Preview(trained, obs, topK)
	if err != nil {
		return nil, eris.Wrap(err, "training: preview")
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	meta := artifact.Metadata{
		GeneratedAtUTC: now().UTC(),
		Parameters:     p.RunParams(),
		Training: artifact.Training{
			Records:       len(labeled),
			Features:      append([]string(nil), model.FeatureColumns...),
			SplitStrategy: string(parts.Strategy),
			LatestYear:    parts.LatestYear,
			Positives:     summary.Positives,
			TrainMetrics:  trainMetrics,
			TestMetrics:   testMetrics,
		},
		RecommendationsPreview: preview,
	}

	paths, err := artifact.Save(p.SaveDir, trained, meta)
	if err != nil {
		return nil, eris.Wrap(err, "training: save artifact")
	}

	return &Result{
		Paths:    paths,
		Metadata: meta,
		Split:    parts.Strategy,
		Preview:  preview,
		Train:    len(parts.Train),
		Test:     len(parts.Test),
	}, nil
}

// Preview scores every observation and ranks the latest year.
func Preview(m classifier.TrainedModel, obs []model.Observation, topK int) ([]model.Recommendation, error) {
	probs, err := m.PredictProbability(features.Matrix(obs))
	if err != nil {
		return nil, eris.Wrap(err, "training: predict")
	}
	scored := make([]model.ScoredObservation, len(obs))
	for i, o := range obs {
		scored[i] = model.ScoredObservation{Observation: o, Probability: probs[i]}
	}
	return ranker.Rank(scored, topK)
}

func design(records []model.LabeledObservation) ([]model.FeatureRow, []int) {
	return features.Matrix(labeling.Observations(records)), labeling.Labels(records)
}

func (t *Trainer) logger() *zap.Logger {
	if t.log == nil {
		t.log = zap.L().With(zap.String("component", "training"))
	}
	return t.log
}
