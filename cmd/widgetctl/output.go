package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/validation"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readBusinessConfig loads a widget config from a JSON file, or returns the
// default config when path is empty.
func readBusinessConfig(path string) (domain.BusinessConfig, error) {
	cfg := domain.DefaultBusinessConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if errs := validation.BusinessConfig(cfg); errs.HasErrors() {
		return cfg, fmt.Errorf("invalid config %s: %w", path, errs)
	}
	return cfg, nil
}
