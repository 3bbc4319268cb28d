// Package csv provides CSV file reading for tabular data.
package csv

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Reader reads numeric rows from CSV input.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	strict    bool
	headers   []string
	line      int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithStrict makes Read fail on the first malformed row instead of skipping it.
func WithStrict(strict bool) Option {
	return func(r *Reader) {
		r.strict = strict
	}
}

// WithComma sets the field delimiter.
func WithComma(comma rune) Option {
	return func(r *Reader) {
		r.reader.Comma = comma
	}
}

// NewReader opens filename and creates a reader over it.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}

	r, err := New(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// New creates a reader over src. Close does not close src.
func New(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
	}
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, errors.Wrap(err, "read csv header")
		}
		r.headers = headers
		r.line++
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns all data as a 2D float slice.
func (r *Reader) Read() ([][]float64, error) {
	var data [][]float64

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		r.line++
		if err != nil {
			if r.strict {
				return nil, errors.Wrapf(err, "line %d", r.line)
			}
			continue
		}

		row, err := parseRow(record)
		if err != nil {
			if r.strict {
				return nil, errors.Wrapf(err, "line %d", r.line)
			}
			continue // Skip malformed rows
		}
		data = append(data, row)
	}

	return data, nil
}

// Stream returns a channel of rows for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	out := make(chan []float64, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				record, err := r.reader.Read()
				if err == io.EOF {
					return
				}
				if err != nil {
					continue
				}

				row, err := parseRow(record)
				if err != nil {
					continue
				}

				select {
				case out <- row:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// parseRow converts string slice to float slice.
func parseRow(record []string) ([]float64, error) {
	if len(record) == 0 {
		return nil, errors.New("empty row")
	}

	row := make([]float64, len(record))
	for i, val := range record {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "column %d", i)
		}
		row[i] = f
	}
	return row, nil
}
