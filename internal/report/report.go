// Package report writes the artifacts of a completed analysis: the composed
// figure, the text summary and the daily series as CSV.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aftershock-omori/internal/omori"
	"aftershock-omori/internal/sequence"
)

// Options select the output directory and which artifacts to write.
type Options struct {
	Dir     string
	PNG     bool
	Summary bool
	CSV     bool
	// Width and Height size one panel of the 2x2 figure.
	Width  int
	Height int
}

// DefaultOptions writes every artifact into the working directory.
func DefaultOptions() Options {
	return Options{Dir: ".", PNG: true, Summary: true, CSV: true, Width: 960, Height: 720}
}

// Input is everything a report is built from.
type Input struct {
	Name        string
	MainShock   sequence.MainShock
	Sequence    sequence.Sequence
	Fit         omori.Result
	GeneratedAt time.Time
}

// Paths lists the files written. Disabled artifacts stay empty.
type Paths struct {
	PNG     string
	Summary string
	CSV     string
}

// Writer renders reports into a directory.
type Writer struct {
	opts Options
}

// New constructs a Writer.
func New(opts Options) *Writer {
	def := DefaultOptions()
	if opts.Dir == "" {
		opts.Dir = def.Dir
	}
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	return &Writer{opts: opts}
}

// CatalogName derives the report name from a catalog path: the base name
// without its extension.
func CatalogName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Prefix returns the common file prefix for a catalog.
func Prefix(name string) string {
	return "omori_analysis_" + name
}

// Write renders every enabled artifact.
func (w *Writer) Write(in Input) (Paths, error) {
	if in.Name == "" {
		return Paths{}, errors.New("report: catalog name is required")
	}
	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output dir: %w", err)
	}

	prefix := filepath.Join(w.opts.Dir, Prefix(in.Name))
	var paths Paths

	if w.opts.PNG {
		path := prefix + "_results.png"
		if err := writeFile(path, func(f *os.File) error { return renderFigure(f, in, w.opts.Width, w.opts.Height) }); err != nil {
			return paths, fmt.Errorf("write figure: %w", err)
		}
		paths.PNG = path
	}

	if w.opts.Summary {
		path := prefix + "_summary.txt"
		if err := writeFile(path, func(f *os.File) error { return writeSummary(f, in) }); err != nil {
			return paths, fmt.Errorf("write summary: %w", err)
		}
		paths.Summary = path
	}

	if w.opts.CSV {
		path := prefix + "_daily.csv"
		if err := writeFile(path, func(f *os.File) error { return writeDailyCSV(f, in.Fit.Bins) }); err != nil {
			return paths, fmt.Errorf("write daily csv: %w", err)
		}
		paths.CSV = path
	}

	return paths, nil
}

func writeFile(path string, fill func(*os.File) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
