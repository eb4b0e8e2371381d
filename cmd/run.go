package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/watch-wrapped/internal/id/uuid"
)

func newRunCmd() *cobra.Command {
	var (
		exportPath string
		jobID      string
		outputPath string
	)
	cmd := &cobra.Command{
		Use:         "run",
		Annotations: needsApp,
		Short:       "Process a watch-history export and print the aggregate",
		Long: `Parses the export, resolves metadata for every distinct video through the
persisted cache (fetching misses from the catalog), and writes the aggregate
result as JSON to stdout or --output.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			if exportPath == "" {
				return errors.New("--export is required")
			}
			runner, err := appInstance.Runner()
			if err != nil {
				return err
			}
			if jobID == "" {
				if jobID, err = uuid.New().NewID(); err != nil {
					return err
				}
			}

			payload, err := os.ReadFile(exportPath)
			if err != nil {
				return fmt.Errorf("read export: %w", err)
			}

			appInstance.StartOps()
			logger := appInstance.Logger()
			logger.Info("run started", zap.String("job_id", jobID), zap.String("export", exportPath))

			result, err := runner.Run(cmd.Context(), jobID, payload)
			if err != nil {
				return fmt.Errorf("run %s: %w", jobID, err)
			}
			return writeResult(cmd.OutOrStdout(), outputPath, result)
		}),
	}
	cmd.Flags().StringVar(&exportPath, "export", "", "path to the watch-history JSON export")
	cmd.Flags().StringVar(&jobID, "job-id", "", "run identifier (default: generated UUIDv7)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the result to this file instead of stdout")
	cmd.Flags().Int("top-n", 10, "length of every ranking")
	cmd.Flags().String("timezone", "UTC", "IANA zone used for months, days and hours")
	cmd.Flags().Int("max-items", 5000, "cap on distinct videos enriched per run")
	cmd.Flags().Bool("history", false, "include the parsed events in the result")
	cmd.Flags().Bool("serve-ops", false, "serve /healthz, /readyz and /metrics while running")
	return cmd
}

func writeResult(stdout io.Writer, outputPath string, result any) error {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	payload = append(payload, '\n')
	if outputPath == "" {
		if _, err := stdout.Write(payload); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
