// Package artifact persists trained models with their metadata and loads the
// newest pair back for serving.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/classifier"
	"github.com/sells-group/crop-advisor/internal/model"
)

// File naming: <prefix><UTC timestamp><ext>. Timestamps sort lexically.
const (
	FilePrefix      = "crop_recommendation_"
	ModelExt        = ".model"
	MetadataExt     = ".json"
	timestampLayout = "20060102_150405"
)

// Metadata is the companion record written next to every model file.
type Metadata struct {
	GeneratedAtUTC         time.Time              `json:"generated_at_utc"`
	Parameters             model.RunParams        `json:"parameters"`
	Training               Training               `json:"training"`
	RecommendationsPreview []model.Recommendation `json:"recommendations_preview"`
}

// Training describes the data and evaluation behind a model.
type Training struct {
	Records       int                `json:"records"`
	Features      []string           `json:"features"`
	SplitStrategy string             `json:"split_strategy"`
	LatestYear    int                `json:"latest_year"`
	Positives     int                `json:"positives"`
	TrainMetrics  classifier.Metrics `json:"train_metrics"`
	TestMetrics   classifier.Metrics `json:"test_metrics"`
}

// envelope is the on-disk model format.
type envelope struct {
	Algorithm string          `json:"algorithm"`
	Model     json.RawMessage `json:"model"`
}

// Paths locates a persisted model/metadata pair.
type Paths struct {
	Model    string `json:"model_path"`
	Metadata string `json:"metadata_path"`
}

// Save writes the model and its metadata into dir, creating dir if needed.
func Save(dir string, m classifier.TrainedModel, meta Metadata) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, eris.Wrapf(err, "artifact: create dir %s", dir)
	}

	stem := filepath.Join(dir, FilePrefix+meta.GeneratedAtUTC.UTC().Format(timestampLayout))
	paths := Paths{Model: stem + ModelExt, Metadata: stem + MetadataExt}

	body, err := json.Marshal(m)
	if err != nil {
		return Paths{}, eris.Wrap(err, "artifact: encode model")
	}
	modelJSON, err := json.Marshal(envelope{Algorithm: m.Algorithm(), Model: body})
	if err != nil {
		return Paths{}, eris.Wrap(err, "artifact: encode model envelope")
	}
	if err := os.WriteFile(paths.Model, modelJSON, 0o644); err != nil {
		return Paths{}, eris.Wrapf(err, "artifact: write %s", paths.Model)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Paths{}, eris.Wrap(err, "artifact: encode metadata")
	}
	if err := os.WriteFile(paths.Metadata, metaJSON, 0o644); err != nil {
		return Paths{}, eris.Wrapf(err, "artifact: write %s", paths.Metadata)
	}

	zap.L().Info("artifact: model saved",
		zap.String("model_path", paths.Model),
		zap.String("metadata_path", paths.Metadata),
		zap.String("algorithm", m.Algorithm()),
	)
	return paths, nil
}

// FindLatest returns the lexically greatest model file in dir.
func FindLatest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePrefix+"*"+ModelExt))
	if err != nil {
		return "", eris.Wrapf(err, "artifact: glob %s", dir)
	}
	if len(matches) == 0 {
		return "", eris.Wrapf(model.ErrArtifactNotFound, "artifact: no trained model in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// MetadataPath returns the companion metadata path for a model file.
func MetadataPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, ModelExt) + MetadataExt
}

// DirLoader loads the newest artifact pair from a directory.
type DirLoader struct {
	Dir string
	Now func() time.Time
}

// Load implements Loader.
func (l DirLoader) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "artifact: load cancelled")
	}

	modelPath, err := FindLatest(l.Dir)
	if err != nil {
		return nil, err
	}
	zap.L().Info("artifact: loading recommendation model", zap.String("path", modelPath))

	metaPath := MetadataPath(modelPath)
	metaJSON, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, eris.Wrapf(model.ErrMetadataMissing, "artifact: missing metadata JSON for model %s", metaPath)
		}
		return nil, eris.Wrapf(err, "artifact: read %s", metaPath)
	}
	features, err := featureList(metaJSON)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: read %s", modelPath)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrapf(err, "artifact: decode %s", modelPath)
	}
	m, err := classifier.Decode(env.Algorithm, env.Model)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: decode model %s", modelPath)
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	return &Snapshot{
		Model:          m,
		Metadata:       json.RawMessage(metaJSON),
		FeatureColumns: features,
		SourcePath:     modelPath,
		LoadedAt:       now().UTC(),
	}, nil
}

// featureList extracts training.features and checks it against the columns
// this build knows how to produce.
func featureList(metaJSON []byte) ([]string, error) {
	var probe struct {
		Training struct {
			Features []string `json:"features"`
		} `json:"training"`
	}
	if err := json.Unmarshal(metaJSON, &probe); err != nil {
		return nil, eris.Wrap(err, "artifact: decode metadata")
	}
	features := probe.Training.Features
	if len(features) == 0 {
		return nil, eris.Wrap(model.ErrFeatureListMissing, "artifact: model metadata is missing the feature column list")
	}
	if !equalStrings(features, model.FeatureColumns) {
		return nil, eris.Errorf("artifact: model was trained on unsupported feature columns %v (want %v)",
			features, model.FeatureColumns)
	}
	return features, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
