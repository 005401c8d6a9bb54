package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/config"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/validation"
)

type estimateOutput struct {
	Provider   ai.ProviderType          `json:"provider"`
	DurationMS int64                    `json:"duration_ms"`
	Result     *domain.EstimationResult `json:"result"`
}

func newEstimateCmd(root *rootOptions) *cobra.Command {
	var (
		configPath string
		provider   string
		image      string
		task       domain.EstimateTask
		urgency    string
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Request one estimate from the configured AI provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			task.Urgency = domain.Urgency(urgency)
			if image != "" {
				dataURL, err := imageDataURL(image)
				if err != nil {
					return err
				}
				task.Image = dataURL
			}
			if errs := validation.EstimateTask(task); errs.HasErrors() {
				return errs
			}

			bizCfg, err := readBusinessConfig(configPath)
			if err != nil {
				return err
			}

			if provider != "" {
				if err := os.Setenv("AI_PROVIDER", provider); err != nil {
					return err
				}
			}
			aiCfg, err := config.LoadAI()
			if err != nil {
				return err
			}

			logger, err := root.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			registry, err := ai.NewRegistryFromConfig(*aiCfg, logger)
			if err != nil {
				return err
			}
			primary, err := registry.Primary()
			if err != nil {
				return err
			}
			estimator := ai.NewEstimator(primary, logger)

			start := time.Now()
			result, err := estimator.Estimate(cmd.Context(), task, bizCfg)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), estimateOutput{
				Provider:   primary.Name(),
				DurationMS: time.Since(start).Milliseconds(),
				Result:     result,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Widget config JSON (default: the built-in demo config)")
	cmd.Flags().StringVar(&provider, "provider", "", "Override AI_PROVIDER (gemini, openai, anthropic)")
	cmd.Flags().StringVar(&task.Description, "description", "", "What needs fixing (required)")
	cmd.Flags().StringVar(&task.ZipCode, "zip", "", "Job site ZIP code (required)")
	cmd.Flags().StringVar(&urgency, "urgency", string(domain.UrgencyFlexible), "same-day, next-day, within-3-days or flexible")
	cmd.Flags().StringVar(&task.Language, "language", "", "Reply language")
	cmd.Flags().StringVar(&image, "image", "", "Photo of the job to attach")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("zip")
	return cmd
}

// imageDataURL reads a photo and encodes it the way the widget uploads it.
func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%s is %s, not an image", path, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
