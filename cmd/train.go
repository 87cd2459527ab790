package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/classifier"
	"github.com/sells-group/crop-advisor/internal/source"
	"github.com/sells-group/crop-advisor/internal/store"
	"github.com/sells-group/crop-advisor/internal/training"
)

var (
	trainYears        int
	trainSeed         int64
	trainIterations   int
	trainLearningRate float64
	trainL2           float64
	trainInput        string
	trainSaveDir      string
	trainPublish      bool
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a recommendation model and save timestamped artifacts",
	Long: `Fetches approved yield and price rows for the most recent --years distinct
years (or reads an exported CSV/XLSX with --input), engineers features,
labels the top crop per location/season/year, trains the classifier, and
writes crop_recommendation_<timestamp>.model plus its metadata JSON.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		params := trainParams(cmd)
		if err := cfg.Validate("train"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, runID, err := trainAndRecord(ctx, st, params)
		if err != nil {
			return err
		}

		if trainPublish {
			pub, ok := st.(store.Publisher)
			if !ok {
				return eris.Errorf("publishing requires the postgres store (driver is %q)", cfg.Store.Driver)
			}
			n, err := pub.PublishRecommendations(ctx, runID, res.Preview)
			if err != nil {
				return eris.Wrap(err, "train: publish recommendations")
			}
			zap.L().Info("recommendations published", zap.String("run_id", runID), zap.Int64("rows", n))
		}

		printTrainSummary(os.Stdout, runID, res)
		return nil
	},
}

// trainParams merges flags over config.
func trainParams(cmd *cobra.Command) training.Params {
	p := training.Params{
		Years: cfg.Source.MinYears,
		Seed:  cfg.Training.Seed,
		Logistic: classifier.LogisticParams{
			Iterations:   cfg.Training.Iterations,
			LearningRate: cfg.Training.LearningRate,
			L2:           cfg.Training.L2,
		},
		SaveDir:     cfg.Training.SaveDir,
		PreviewTopK: cfg.Training.PreviewTopK,
		Input:       trainInput,
	}
	flags := cmd.Flags()
	if flags.Changed("years") {
		p.Years = trainYears
		cfg.Source.MinYears = trainYears
	}
	if flags.Changed("seed") {
		p.Seed = trainSeed
	}
	if flags.Changed("iterations") {
		p.Logistic.Iterations = trainIterations
		cfg.Training.Iterations = trainIterations
	}
	if flags.Changed("learning-rate") {
		p.Logistic.LearningRate = trainLearningRate
		cfg.Training.LearningRate = trainLearningRate
	}
	if flags.Changed("l2") {
		p.Logistic.L2 = trainL2
		cfg.Training.L2 = trainL2
	}
	if flags.Changed("save-dir") {
		p.SaveDir = trainSaveDir
		cfg.Training.SaveDir = trainSaveDir
	}
	if p.Years < source.MinTrainingYears {
		p.Years = source.MinTrainingYears
		cfg.Source.MinYears = source.MinTrainingYears
	}
	return p
}

// trainAndRecord runs training and records the outcome in the run store.
func trainAndRecord(ctx context.Context, st store.Store, p training.Params) (*training.Result, string, error) {
	run, err := st.CreateRun(ctx, p.RunParams())
	if err != nil {
		return nil, "", eris.Wrap(err, "train: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	res, err := runTraining(ctx, p)
	if err != nil {
		if ferr := st.FailRun(ctx, run.ID, err.Error()); ferr != nil {
			log.Error("train: failed to record run failure", zap.Error(ferr))
		}
		return nil, run.ID, err
	}
	if err := st.CompleteRun(ctx, run.ID, res.RunResult()); err != nil {
		return nil, run.ID, eris.Wrap(err, "train: complete run")
	}
	log.Info("training complete",
		zap.String("model", res.Paths.Model),
		zap.Float64("test_accuracy", res.Metadata.Training.TestMetrics.Accuracy),
	)
	return res, run.ID, nil
}

func runTraining(ctx context.Context, p training.Params) (*training.Result, error) {
	if p.Input != "" {
		mem, err := fileSource(ctx, p.Input)
		if err != nil {
			return nil, err
		}
		return training.New(mem, nil).Run(ctx, p)
	}
	pg, closeDB, err := openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer closeDB()
	return training.New(pg, nil).Run(ctx, p)
}

func printTrainSummary(out io.Writer, runID string, res *training.Result) {
	t := res.Metadata.Training
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	_, _ = fmt.Fprintf(w, "Model:\t%s\n", res.Paths.Model)
	_, _ = fmt.Fprintf(w, "Metadata:\t%s\n", res.Paths.Metadata)
	_, _ = fmt.Fprintf(w, "Records:\t%d (train %d, test %d, %s split)\n", t.Records, res.Train, res.Test, res.Split)
	_, _ = fmt.Fprintf(w, "Positives:\t%d\n", t.Positives)
	_, _ = fmt.Fprintf(w, "Train accuracy:\t%.4f\n", t.TrainMetrics.Accuracy)
	_, _ = fmt.Fprintf(w, "Test accuracy:\t%.4f\n", t.TestMetrics.Accuracy)
	_, _ = fmt.Fprintf(w, "Test F1:\t%.4f\n", t.TestMetrics.F1)
	_ = w.Flush()

	if len(res.Preview) > 0 {
		_, _ = fmt.Fprintln(out)
		formatRecommendations(out, res.Preview)
	}
}

func init() {
	trainCmd.Flags().IntVar(&trainYears, "years", 0, "number of most recent distinct years to train on (min 2, default from config)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "random seed for the dataset split (default from config)")
	trainCmd.Flags().IntVar(&trainIterations, "iterations", 0, "gradient descent iterations (default from config)")
	trainCmd.Flags().Float64Var(&trainLearningRate, "learning-rate", 0, "gradient descent learning rate (default from config)")
	trainCmd.Flags().Float64Var(&trainL2, "l2", 0, "L2 regularization strength (default from config)")
	trainCmd.Flags().StringVar(&trainInput, "input", "", "train from an exported CSV or XLSX file instead of the source database")
	trainCmd.Flags().StringVar(&trainSaveDir, "save-dir", "", "artifact output directory (default from config)")
	trainCmd.Flags().BoolVar(&trainPublish, "publish", false, "publish the recommendation preview to the postgres store")
	rootCmd.AddCommand(trainCmd)
}
