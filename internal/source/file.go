package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/model"
)

// headerAliases maps export column names onto canonical ones.
var headerAliases = map[string]string{
	"total_area_planted_ha": model.ColAreaHa,
	"area_planted_ha":       model.ColAreaHa,
	"price_per_kg":          model.ColAvgPricePerKg,
}

// identityColumns must be present in every export.
var identityColumns = []string{model.ColLocationID, model.ColCropID, model.ColYear, model.ColSeason}

// nullTokens are cell values read as NULL.
var nullTokens = map[string]bool{"": true, "null": true, "nan": true, "na": true, "n/a": true}

// XLSXOptions selects the worksheet to read.
type XLSXOptions struct {
	SheetIndex int
	SheetName  string
}

// ReadFile loads a .csv or .xlsx export into a batch.
func ReadFile(ctx context.Context, path string) (model.RawBatch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return model.RawBatch{}, eris.Wrapf(err, "source: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f)
	case ".xlsx":
		return ReadXLSX(ctx, path, XLSXOptions{})
	default:
		return model.RawBatch{}, eris.Errorf("source: unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// ReadCSV decodes a header-led CSV export. Columns absent from the header are
// absent from the batch, so downstream schema checks can tell them apart from
// empty cells.
func ReadCSV(ctx context.Context, r io.Reader) (model.RawBatch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return decode(ctx, &paddedReader{next: cr.Read})
}

// ReadXLSX decodes one worksheet of a spreadsheet export. The first row is the
// header.
func ReadXLSX(ctx context.Context, path string, opts XLSXOptions) (model.RawBatch, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return model.RawBatch{}, eris.Wrapf(err, "source: open xlsx %s", path)
	}
	sheet, err := pickSheet(f, opts)
	if err != nil {
		return model.RawBatch{}, err
	}

	i := 0
	next := func() ([]string, error) {
		for i < len(sheet.Rows) {
			row := sheet.Rows[i]
			i++
			cells := make([]string, len(row.Cells))
			blank := true
			for j, c := range row.Cells {
				cells[j] = c.String()
				if strings.TrimSpace(cells[j]) != "" {
					blank = false
				}
			}
			if !blank {
				return cells, nil
			}
		}
		return nil, io.EOF
	}
	return decode(ctx, &paddedReader{next: next})
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("source: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("source: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

// paddedReader adapts a record iterator to csvutil.Reader. Once the header
// width is known, every record is padded or trimmed to it and null tokens are
// blanked so nullable fields decode as nil.
type paddedReader struct {
	next  func() ([]string, error)
	width int
}

func (p *paddedReader) Read() ([]string, error) {
	rec, err := p.next()
	if err != nil {
		return nil, err
	}
	if p.width == 0 {
		return rec, nil
	}
	out := make([]string, p.width)
	copy(out, rec)
	for i, v := range out {
		v = strings.TrimSpace(v)
		if nullTokens[strings.ToLower(v)] {
			v = ""
		}
		out[i] = v
	}
	return out, nil
}

func decode(ctx context.Context, r *paddedReader) (model.RawBatch, error) {
	raw, err := r.Read()
	if errors.Is(err, io.EOF) {
		return model.RawBatch{}, eris.Wrap(model.ErrEmptyInput, "source: file has no header row")
	}
	if err != nil {
		return model.RawBatch{}, eris.Wrap(err, "source: read header")
	}
	header := normalizeHeader(raw)
	r.width = len(header)

	var missing []string
	for _, c := range identityColumns {
		if !contains(header, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return model.RawBatch{}, eris.Wrapf(model.ErrSchema, "source: missing required columns %v", missing)
	}

	dec, err := csvutil.NewDecoder(r, header...)
	if err != nil {
		return model.RawBatch{}, eris.Wrap(err, "source: create decoder")
	}
	dec.Tag = "json"

	batch := model.RawBatch{}
	for _, c := range model.RawColumns {
		if contains(header, c) {
			batch.Columns = append(batch.Columns, c)
		}
	}
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return model.RawBatch{}, eris.Wrap(err, "source: read cancelled")
		}
		var row model.RawRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return model.RawBatch{}, eris.Wrapf(err, "source: decode line %d", line)
		}
		batch.Rows = append(batch.Rows, row)
	}

	zap.L().Debug("source: file decoded",
		zap.Int("rows", len(batch.Rows)),
		zap.Strings("columns", batch.Columns),
	)
	return batch, nil
}

func normalizeHeader(raw []string) []string {
	out := make([]string, len(raw))
	for i, h := range raw {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		h = strings.ReplaceAll(h, " ", "_")
		if alias, ok := headerAliases[h]; ok {
			h = alias
		}
		out[i] = h
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
