// Copyright (c) 2025 Social Harvest Project
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/socialharvest/harvester/internal/util"
)

// =============================================================================
// CSV SINK
// =============================================================================

// CSVSink writes an export as a directory of CSV files, one per table.
// The destination name's extension is dropped and used as the
// directory name, so "run_ab12_20250101.csv" becomes a directory
// "run_ab12_20250101" containing "summary.csv", "post.csv", and so on.
type CSVSink struct {
	// OutputDir is where export directories are created.
	OutputDir string
}

// NewCSVSink creates a sink rooted at the given directory.
func NewCSVSink(outputDir string) *CSVSink {
	if outputDir == "" {
		outputDir = "."
	}
	return &CSVSink{OutputDir: outputDir}
}

// Write implements Sink. Files are written atomically; the returned
// size is the sum of all table files. Any failure aborts the export
// with whatever files were already written left for inspection - the
// job's failed status is what marks the artifact incomplete.
func (s *CSVSink) Write(ctx context.Context, tables []Table, destination string) (int64, error) {
	base := strings.TrimSuffix(filepath.Base(destination), filepath.Ext(destination))
	if base == "" || base == "." {
		return 0, fmt.Errorf("invalid destination %q", destination)
	}
	dir := filepath.Join(s.OutputDir, base)

	var total int64
	for _, tbl := range tables {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		data, err := encodeTable(tbl)
		if err != nil {
			return 0, fmt.Errorf("encode table %s: %w", tbl.Name, err)
		}

		path := filepath.Join(dir, tableFilename(tbl.Name))
		if err := util.AtomicWriteFile(path, data, 0644); err != nil {
			return 0, fmt.Errorf("write table %s: %w", tbl.Name, err)
		}
		total += int64(len(data))
	}
	return total, nil
}

// encodeTable renders header plus rows as CSV.
func encodeTable(tbl Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(tbl.Columns); err != nil {
		return nil, err
	}
	for _, row := range tbl.Rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tableFilename lowercases the table name for use on disk.
func tableFilename(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_")) + ".csv"
}
