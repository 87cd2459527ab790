package model

import "time"

// RunStatus represents the state of a training run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one recorded training invocation.
type Run struct {
	ID        string     `json:"id" yaml:"id"`
	Status    RunStatus  `json:"status" yaml:"status"`
	Params    RunParams  `json:"params" yaml:"params"`
	Result    *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// RunParams records the knobs a training run was started with.
type RunParams struct {
	Years        int     `json:"years" yaml:"years"`
	Seed         int64   `json:"random_seed" yaml:"random_seed"`
	Iterations   int     `json:"iterations" yaml:"iterations"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	L2           float64 `json:"l2" yaml:"l2"`
	Input        string  `json:"input,omitempty" yaml:"input,omitempty"`
}

// RunResult holds the outcome of a completed training run.
type RunResult struct {
	Records       int     `json:"records" yaml:"records"`
	TrainRecords  int     `json:"train_records" yaml:"train_records"`
	TestRecords   int     `json:"test_records" yaml:"test_records"`
	SplitStrategy string  `json:"split_strategy" yaml:"split_strategy"`
	TestAccuracy  float64 `json:"test_accuracy" yaml:"test_accuracy"`
	TestF1        float64 `json:"test_f1" yaml:"test_f1"`
	ModelPath     string  `json:"model_path" yaml:"model_path"`
	MetadataPath  string  `json:"metadata_path" yaml:"metadata_path"`
}
