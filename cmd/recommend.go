package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crop-advisor/internal/recommend"
)

var (
	recLocation int
	recSeason   string
	recYear     int
	recTopK     int
	recInput    string
	recModelDir string
	recFormat   string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rank crops for one location, season, and year",
	Long:  "Runs a single recommendation against the newest model artifact without starting the server.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, err := checkFormat(recFormat)
		if err != nil {
			return err
		}
		if recModelDir != "" {
			cfg.Serving.ModelDir = recModelDir
		}
		if err := cfg.Validate("recommend"); err != nil {
			return err
		}

		svc, cleanup, err := initRecommender(ctx, recInput)
		if err != nil {
			return err
		}
		defer cleanup()

		resp, err := svc.Recommend(ctx, recommend.Request{
			LocationID: recLocation,
			Season:     recSeason,
			Year:       recYear,
			TopK:       recTopK,
		})
		if err != nil {
			return eris.Wrap(err, "recommend")
		}

		if format == formatTable {
			formatRecommendations(os.Stdout, resp.Predictions)
			return nil
		}
		return encode(os.Stdout, format, resp)
	},
}

func init() {
	recommendCmd.Flags().IntVar(&recLocation, "location", 0, "location id")
	recommendCmd.Flags().StringVar(&recSeason, "season", "", "season: wet or dry")
	recommendCmd.Flags().IntVar(&recYear, "year", 0, "year to plan for")
	recommendCmd.Flags().IntVar(&recTopK, "top-k", 3, "number of crops to return (1-10)")
	recommendCmd.Flags().StringVar(&recInput, "input", "", "read context rows from an exported CSV or XLSX file instead of the source database")
	recommendCmd.Flags().StringVar(&recModelDir, "model-dir", "", "artifact directory (default from config)")
	recommendCmd.Flags().StringVar(&recFormat, "format", formatTable, "output format: table, json, or yaml")
	_ = recommendCmd.MarkFlagRequired("location")
	_ = recommendCmd.MarkFlagRequired("season")
	_ = recommendCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(recommendCmd)
}
