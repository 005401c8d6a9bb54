// Package pricing imports operator price lists from CSV text, XLSX workbooks
// and published Google Sheets, splitting them into core services and add-ons.
package pricing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jkindrix/estimatebot/internal/domain"
)

const (
	defaultLabel = "Unnamed Item"
	defaultPrice = "$0"
)

var (
	// ErrEmptySource means the source had no usable rows.
	ErrEmptySource = errors.New("sheet is empty")
	// ErrNotPublic means the sheet could not be read anonymously.
	ErrNotPublic = errors.New("sheet is not public; share it as \"anyone with the link can view\"")
	// ErrUnsupportedFormat means an uploaded file is neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("unsupported price list format; upload CSV or XLSX")
)

// Result is the outcome of one import run.
type Result struct {
	Core   []domain.PriceItem `json:"corePricingItems"`
	Addons []domain.PriceItem `json:"smartAddons"`
}

// Len returns the total number of imported items.
func (r Result) Len() int {
	return len(r.Core) + len(r.Addons)
}

// coreKeywords mark a row's type column as a core service.
var coreKeywords = []string{"core", "service", "main"}

// columns holds the field index for each known header. Unmatched headers
// fall back to positions 0-3.
type columns struct {
	typ, label, price, description int
}

var positional = columns{typ: 0, label: 1, price: 2, description: 3}

// mapColumns maps the known header names in row. matched is false when no
// cell names a known column.
func mapColumns(row []string) (cols columns, matched bool) {
	cols = positional
	for i, h := range row {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "type":
			cols.typ = i
		case "label":
			cols.label = i
		case "price":
			cols.price = i
		case "description":
			cols.description = i
		default:
			continue
		}
		matched = true
	}
	return cols, matched
}

// isHeader reports whether the first row is a header. A row naming no known
// column is still a header unless its price cell holds a number.
func isHeader(row []string) (columns, bool) {
	cols, matched := mapColumns(row)
	if matched {
		return cols, true
	}
	return positional, !strings.ContainsAny(field(row, positional.price), "0123456789")
}

// ParseCSV parses quoted CSV text into core and add-on lists. The header row
// is optional.
func ParseCSV(text string) (Result, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptySource
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rec)
	}
	return classifyRows(rows)
}

// classifyRows drops a leading header row and splits the data rows.
func classifyRows(rows [][]string) (Result, error) {
	if len(rows) == 0 {
		return Result{}, ErrEmptySource
	}
	cols, header := isHeader(rows[0])
	if header {
		rows = rows[1:]
	}

	res := Result{Core: []domain.PriceItem{}, Addons: []domain.PriceItem{}}
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		typ := strings.ToLower(field(row, cols.typ))
		kind := "addon"
		if isCore(typ) {
			kind = "core"
		}
		item := domain.PriceItem{
			ID:          fmt.Sprintf("%s-%d-%s", kind, i, uuid.NewString()),
			Label:       orDefault(field(row, cols.label), defaultLabel),
			Price:       orDefault(field(row, cols.price), defaultPrice),
			Description: field(row, cols.description),
		}
		if kind == "core" {
			res.Core = append(res.Core, item)
		} else {
			res.Addons = append(res.Addons, item)
		}
	}
	if res.Len() == 0 {
		return Result{}, ErrEmptySource
	}
	return res, nil
}

func isCore(typ string) bool {
	for _, kw := range coreKeywords {
		if strings.Contains(typ, kw) {
			return true
		}
	}
	return false
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
