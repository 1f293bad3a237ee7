package frame

import (
	"fmt"
	"io"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var nanValues = []string{"", "NA", "NaN", "nan", "null", "<nil>"}

// ReadCSV loads a delimited file with a header row. Integer and float columns
// become Number columns, boolean columns become Bool columns and everything
// else is kept as String.
func ReadCSV(r io.Reader) (*Table, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(true),
		dataframe.NaNValues(nanValues),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("error parsing csv: %w", df.Err)
	}
	return FromDataFrame(df)
}

func FromDataFrame(df dataframe.DataFrame) (*Table, error) {
	t := New(df.Nrow())
	for _, name := range df.Names() {
		s := df.Col(name)
		if s.Err != nil {
			return nil, fmt.Errorf("error reading column %q: %w", name, s.Err)
		}

		switch s.Type() {
		case series.Int, series.Float:
			t.Set(NewNumberColumn(name, s.Float()))
		case series.Bool:
			t.Set(&Column{Name: name, Kind: Bool, Floats: s.Float()})
		default:
			missing := s.IsNaN()
			valid := make([]bool, len(missing))
			for i, m := range missing {
				valid[i] = !m
			}
			t.Set(NewStringColumn(name, s.Records(), valid))
		}
	}
	return t, nil
}

// DataFrame converts the table into a gota data frame. Timestamps are rendered
// as RFC 3339 strings.
func (t *Table) DataFrame() dataframe.DataFrame {
	cols := make([]series.Series, 0, len(t.cols))
	for _, c := range t.cols {
		switch c.Kind {
		case Bool:
			ints := make([]int, t.rows)
			for i, v := range c.Floats {
				if v != 0 {
					ints[i] = 1
				}
			}
			cols = append(cols, series.New(ints, series.Int, c.Name))
		case String:
			values := make([]string, t.rows)
			for i := range values {
				if c.Valid[i] {
					values[i] = c.Strings[i]
				} else {
					values[i] = "NaN"
				}
			}
			cols = append(cols, series.New(values, series.String, c.Name))
		case Timestamp:
			values := make([]string, t.rows)
			for i, ts := range c.Times {
				if ts.IsZero() {
					values[i] = "NaN"
				} else {
					values[i] = ts.UTC().Format(time.RFC3339)
				}
			}
			cols = append(cols, series.New(values, series.String, c.Name))
		default:
			cols = append(cols, series.New(c.Floats, series.Float, c.Name))
		}
	}
	return dataframe.New(cols...)
}

func WriteCSV(w io.Writer, t *Table) error {
	df := t.DataFrame()
	if df.Err != nil {
		return fmt.Errorf("error building data frame: %w", df.Err)
	}
	if err := df.WriteCSV(w); err != nil {
		return fmt.Errorf("error writing csv: %w", err)
	}
	return nil
}
