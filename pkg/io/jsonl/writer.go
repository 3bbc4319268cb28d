// Package jsonl writes detection results as JSON Lines.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/cockroachdb/errors"

	gio "github.com/hed1ad/cblof/pkg/io"
)

// Writer emits one JSON object per result, newline separated.
type Writer struct {
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

var _ gio.Writer = (*Writer)(nil)

// NewWriter creates a writer over dst. Close flushes but does not close dst.
func NewWriter(dst io.Writer) *Writer {
	buf := bufio.NewWriter(dst)
	return &Writer{
		buf: buf,
		enc: json.NewEncoder(buf),
	}
}

// Create opens filename for writing, truncating it. A filename of "-"
// writes to standard output.
func Create(filename string) (*Writer, error) {
	if filename == "-" {
		return NewWriter(os.Stdout), nil
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", filename)
	}
	w := NewWriter(file)
	w.closer = file
	return w, nil
}

// Write outputs a single result.
func (w *Writer) Write(result gio.Result) error {
	if err := w.enc.Encode(result); err != nil {
		return errors.Wrap(err, "encode result")
	}
	return nil
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []gio.Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes buffered output and releases resources.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "flush results")
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
