package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crop-advisor/internal/model"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(f string) (string, error) {
	f = strings.ToLower(strings.TrimSpace(f))
	switch f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	}
	return "", eris.Errorf("unsupported output format %q (want table, json, or yaml)", f)
}

// encode writes v as indented JSON or YAML.
func encode(out io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	}
}

// formatRecommendations writes a ranked table to w.
func formatRecommendations(out io.Writer, recs []model.Recommendation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LOCATION\tSEASON\tYEAR\tRANK\tCROP\tPROBABILITY\tSCORE\tEXP_REVENUE")
	_, _ = fmt.Fprintln(w, "--------\t------\t----\t----\t----\t-----------\t-----\t-----------")
	for _, r := range recs {
		loc := r.LocationName
		if loc == "" {
			loc = fmt.Sprintf("#%d", r.LocationID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%.4f\t%.2f\t%.2f\n",
			truncate(loc, 24),
			r.SeasonLabel,
			r.Year,
			r.Rank,
			truncate(r.CropName, 24),
			r.Probability,
			r.Score,
			r.ExpectedRevenue,
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
