package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/raysh454/fatt/internal/model"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

const xlsxSheet = "Findings"

var exportHeader = []string{"domain", "rule_name", "matched_path", "detected", "scanned_at"}

// ParseFormat maps a case-insensitive format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Export writes the findings matching filter to path and returns how many
// were written.
func (s *SQLiteStore) Export(ctx context.Context, path string, format Format, filter Filter) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create export dir %s: %w", dir, err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file %s: %w", path, err)
	}
	n, err := s.ExportTo(ctx, file, format, filter)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close export file: %w", cerr)
	}
	return n, err
}

// ExportTo writes the findings matching filter to w.
func (s *SQLiteStore) ExportTo(ctx context.Context, w io.Writer, format Format, filter Filter) (int, error) {
	findings, err := s.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	switch format {
	case FormatCSV:
		err = writeCSV(w, findings)
	case FormatJSON:
		err = writeJSON(w, findings)
	case FormatXLSX:
		err = writeXLSX(w, findings)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", format, err)
	}
	return len(findings), nil
}

func exportRow(f model.Finding) []string {
	return []string{
		f.Domain,
		f.RuleName,
		f.MatchedPath,
		strconv.FormatBool(f.Detected),
		f.ScannedAt.UTC().Format(time.RFC3339),
	}
}

func writeCSV(w io.Writer, findings []model.Finding) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, f := range findings {
		if err := cw.Write(exportRow(f)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, findings []model.Finding) error {
	if findings == nil {
		findings = []model.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}

func writeXLSX(w io.Writer, findings []model.Finding) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return err
	}
	if err := setRow(f, 1, exportHeader); err != nil {
		return err
	}
	for i, finding := range findings {
		if err := setRow(f, i+2, exportRow(finding)); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(xlsxSheet, cell, &cells)
}
