package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/pricing"
)

type importOutput struct {
	Source string `json:"source"`
	Core   int    `json:"core_count"`
	Addons int    `json:"addon_count"`
	pricing.Result
}

func newImportCmd() *cobra.Command {
	var (
		file    string
		sheet   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Parse a CSV/XLSX price list or a published Google Sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (sheet == "") {
				return errors.New("exactly one of --file or --sheet is required")
			}

			var (
				res    pricing.Result
				source string
				err    error
			)
			if file != "" {
				data, readErr := os.ReadFile(file)
				if readErr != nil {
					return readErr
				}
				source = filepath.Base(file)
				res, err = pricing.ParseFile(file, data)
			} else {
				fetcher := pricing.NewSheetFetcher(&http.Client{Timeout: timeout}, zap.NewNop())
				text, fetchErr := fetcher.Fetch(cmd.Context(), sheet)
				if fetchErr != nil {
					return fetchErr
				}
				source = pricing.ExportURL(sheet)
				res, err = pricing.ParseCSV(text)
			}
			if err != nil {
				return fmt.Errorf("import %s: %w", source, err)
			}

			return writeJSON(cmd.OutOrStdout(), importOutput{
				Source: source,
				Core:   len(res.Core),
				Addons: len(res.Addons),
				Result: res,
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Local CSV or XLSX price list")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Google Sheets URL shared as anyone-with-the-link")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Sheet download timeout")
	return cmd
}
