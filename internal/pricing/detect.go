package pricing

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ParseFile detects whether data is a CSV or XLSX price list and parses it.
// The filename extension is only consulted when content sniffing sees a bare zip.
func ParseFile(filename string, data []byte) (Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Result{}, ErrEmptySource
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is(xlsxMIME):
		return ParseXLSX(bytes.NewReader(data), "")
	case mt.Is("application/zip") && strings.EqualFold(filepath.Ext(filename), ".xlsx"):
		return ParseXLSX(bytes.NewReader(data), "")
	case isText(mt):
		return ParseCSV(string(data))
	default:
		return Result{}, ErrUnsupportedFormat
	}
}

// isText walks the detected type's parents looking for text/plain.
func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") || m.Is("text/csv") {
			return true
		}
	}
	return false
}
