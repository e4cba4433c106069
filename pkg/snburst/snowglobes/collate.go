package snowglobes

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Table is one collated result: the header line naming the columns, and the
// numeric data column-major (Data[0] is the energy column in GeV).
type Table struct {
	Header  string
	Columns []string
	Data    [][]float64
}

// Rows returns the number of data rows.
func (t Table) Rows() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// SumCounts totals every non-energy column: the expected event count the
// table represents.
func (t Table) SumCounts() float64 {
	total := 0.0
	for c := 1; c < len(t.Data); c++ {
		for _, v := range t.Data[c] {
			total += v
		}
	}
	return total
}

// Collate loads every collated table Simulate produced for an artifact and
// returns them keyed by file name, mirroring CollatedKey.
func Collate(ctx context.Context, inst *Installation, tarball string) (map[string]Table, error) {
	_ = inst // the installation locates nothing here, but the call shape matches Simulate

	dir := ProcessedDir(tarball)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no processed results at %s; run the detector simulation first", dir)
		}
		return nil, fmt.Errorf("reading processed dir: %w", err)
	}

	tables := make(map[string]Table)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "Collated_") || !strings.HasSuffix(name, ".dat") {
			continue
		}
		table, err := ParseCollatedFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		tables[name] = table
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no collated tables found in %s", dir)
	}
	return tables, nil
}

// ParseCollatedFile reads one collated .dat table: a header line naming the
// columns followed by whitespace-separated numeric rows.
func ParseCollatedFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("opening collated table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Table{}, err
		}
		return Table{}, fmt.Errorf("%s is empty", path)
	}
	header := strings.TrimSpace(scanner.Text())
	columns := strings.Fields(header)
	if len(columns) < 2 {
		return Table{}, fmt.Errorf("%s: header names %d columns, expected at least 2", path, len(columns))
	}

	data := make([][]float64, len(columns))
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != len(columns) {
			return Table{}, fmt.Errorf("%s line %d: %d values for %d columns", path, lineNo, len(fields), len(columns))
		}
		for c, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return Table{}, fmt.Errorf("%s line %d column %d: %w", path, lineNo, c+1, err)
			}
			data[c] = append(data[c], v)
		}
	}
	if err := scanner.Err(); err != nil {
		return Table{}, err
	}

	return Table{Header: header, Columns: columns, Data: data}, nil
}
