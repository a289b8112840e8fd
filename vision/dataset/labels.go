package dataset

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"

	"github.com/satlab/multitask/errors"
)

// WeatherVector is a ';'-separated list of covariates in one CSV cell.
type WeatherVector []float32

// UnmarshalCSV implements gocsv.TypeUnmarshaller
func (w *WeatherVector) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*w = nil
		return nil
	}
	parts := strings.Split(s, ";")
	out := make(WeatherVector, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return errors.Errorf("invalid weather value %q: %v", p, err)
		}
		out[i] = float32(v)
	}
	*w = out
	return nil
}

// MarshalCSV implements gocsv.TypeMarshaller
func (w WeatherVector) MarshalCSV() (string, error) {
	parts := make([]string, len(w))
	for i, v := range w {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, ";"), nil
}

// LabelRow is one line of the regression/classification label file.
type LabelRow struct {
	Filename  string        `csv:"filename"`
	GenOutput float64       `csv:"gen_output"`
	Type      int32         `csv:"type"`
	Weather   WeatherVector `csv:"weather"`
}

// Labels indexes label rows by file name and by file stem.
type Labels struct {
	rows       []LabelRow
	byName     map[string]int
	weatherDim int
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ReadLabels parses a label CSV. Every row must carry the same number of
// weather values and a non-negative type.
func ReadLabels(r io.Reader) (*Labels, error) {
	var rows []LabelRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.WrapData(err, "failed to parse label file")
	}
	if len(rows) == 0 {
		return nil, errors.Data("label file has no rows")
	}

	l := &Labels{
		rows:       rows,
		byName:     make(map[string]int, 2*len(rows)),
		weatherDim: len(rows[0].Weather),
	}
	for i, row := range rows {
		if row.Filename == "" {
			return nil, errors.Data("label row %d has no filename", i+1)
		}
		if row.Type < 0 {
			return nil, errors.Data("label row %d (%s) has negative type %d", i+1, row.Filename, row.Type)
		}
		if len(row.Weather) != l.weatherDim {
			return nil, errors.Data("label row %d (%s) has %d weather values, expected %d",
				i+1, row.Filename, len(row.Weather), l.weatherDim)
		}
		if _, dup := l.byName[row.Filename]; dup {
			return nil, errors.Data("duplicate label row for %s", row.Filename)
		}
		l.byName[row.Filename] = i
		if s := stem(row.Filename); s != row.Filename {
			if _, taken := l.byName[s]; !taken {
				l.byName[s] = i
			}
		}
	}
	return l, nil
}

// LoadLabels reads a label CSV from fs
func LoadLabels(fs afero.Fs, path string) (*Labels, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.WrapConfig(err, "failed to open label file")
	}
	defer f.Close()
	return ReadLabels(f)
}

// Lookup finds the row for a tile file, matching the full base name first
// and the stem second.
func (l *Labels) Lookup(name string) (LabelRow, bool) {
	base := filepath.Base(name)
	if i, ok := l.byName[base]; ok {
		return l.rows[i], true
	}
	if i, ok := l.byName[stem(base)]; ok {
		return l.rows[i], true
	}
	return LabelRow{}, false
}

// Len returns the number of rows
func (l *Labels) Len() int { return len(l.rows) }

// WeatherDim is the length of every weather vector
func (l *Labels) WeatherDim() int { return l.weatherDim }

// NumClasses is one more than the largest type
func (l *Labels) NumClasses() int {
	highest := int32(-1)
	for _, r := range l.rows {
		if r.Type > highest {
			highest = r.Type
		}
	}
	return int(highest) + 1
}
