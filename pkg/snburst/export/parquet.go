// Package export writes pipeline results as Parquet files.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/snowglobes"
	"github.com/stlgolfer/snewpy-log-bins/pkg/snburst/storage"
)

// WriteBinCounts exports a run's aggregated window counts.
func WriteBinCounts(path string, runID string, counts []storage.BinCount) error {
	fields := []map[string]string{
		{"Tag": "name=run_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"},
		{"Tag": "name=bin_index, type=INT64, repetitiontype=OPTIONAL"},
		{"Tag": "name=t_start, type=DOUBLE, repetitiontype=OPTIONAL"},
		{"Tag": "name=t_end, type=DOUBLE, repetitiontype=OPTIONAL"},
		{"Tag": "name=t_mid, type=DOUBLE, repetitiontype=OPTIONAL"},
		{"Tag": "name=events, type=DOUBLE, repetitiontype=OPTIONAL"},
		{"Tag": "name=rate, type=DOUBLE, repetitiontype=OPTIONAL"},
	}

	rows := make([]map[string]any, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, map[string]any{
			"run_id":    runID,
			"bin_index": int64(c.BinIndex),
			"t_start":   c.TStart,
			"t_end":     c.TEnd,
			"t_mid":     c.TMid,
			"events":    c.Events,
			"rate":      c.Rate,
		})
	}

	return writeRows(path, fields, rows)
}

// WriteTable exports one collated table, one Parquet column per table
// column.
func WriteTable(path string, table snowglobes.Table) error {
	if table.Rows() == 0 {
		return fmt.Errorf("table has no rows")
	}

	fields := make([]map[string]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", col),
		})
	}

	rows := make([]map[string]any, table.Rows())
	for r := range rows {
		row := make(map[string]any, len(table.Columns))
		for c, col := range table.Columns {
			row[col] = table.Data[c][r]
		}
		rows[r] = row
	}

	return writeRows(path, fields, rows)
}

// WriteTables exports every collated table into dir, one Parquet file per
// table. File names mirror the collated .dat names.
func WriteTables(dir string, tables map[string]snowglobes.Table) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}
	for name, table := range tables {
		path := filepath.Join(dir, strings.TrimSuffix(name, ".dat")+".parquet")
		if err := WriteTable(path, table); err != nil {
			return fmt.Errorf("exporting %s: %w", name, err)
		}
	}
	return nil
}

func writeRows(path string, fields []map[string]string, rows []map[string]any) error {
	schema, err := json.Marshal(map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	if err != nil {
		return fmt.Errorf("building parquet schema: %w", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("creating parquet file: %w", err)
	}

	pw, err := writer.NewJSONWriter(string(schema), fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	// The JSON writer wants each row as marshalled JSON text, not as the
	// map itself.
	for _, row := range rows {
		rec, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("encoding parquet row: %w", err)
		}
		if err := pw.Write(string(rec)); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("writing parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("finalizing parquet file: %w", err)
	}
	return fw.Close()
}
