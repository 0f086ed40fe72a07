package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fsystem/portal/modules/grants/infrastructure/persistence"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/composables"
	"github.com/fsystem/portal/pkg/configuration"
)

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Read the funding pool straight from the database",
	}
	cmd.AddCommand(newPoolSummaryCmd(), newPoolExportCmd(), newSerialPreviewCmd())
	return cmd
}

func parseOptionalUUID(flag, raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("invalid --%s: %w", flag, err))
	}
	return &id, nil
}

func parseRequiredUUID(flag, raw string) (uuid.UUID, error) {
	id, err := parseOptionalUUID(flag, raw)
	if err != nil {
		return uuid.Nil, err
	}
	if id == nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("--%s is required", flag))
	}
	return *id, nil
}

// withPoolService runs fn against an uncached pool service bound to a fresh
// database pool.
func withPoolService(ctx context.Context, fn func(ctx context.Context, svc *services.PoolService) error) error {
	conf := configuration.Use()
	pool, err := connectDB(ctx, conf)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := services.NewPoolService(
		persistence.NewUsageRepository(),
		persistence.NewCycleRepository(),
		persistence.NewGrantCallRepository(),
		persistence.NewSerialRepository(),
		conf.DefaultCurrency,
	)
	ctx = composables.WithPool(ctx, pool)
	ctx = composables.WithLogger(ctx, conf.Logger().WithField("component", "grants-data"))
	if err := fn(ctx, svc); err != nil {
		return withCode(exitService, err)
	}
	return nil
}

func newPoolSummaryCmd() *cobra.Command {
	var cycle string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the pool summary of one cycle, or of every open cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cycleID, err := parseOptionalUUID("cycle", cycle)
			if err != nil {
				return err
			}
			return withPoolService(cmd.Context(), func(ctx context.Context, svc *services.PoolService) error {
				r, err := svc.Summary(ctx, cycleID)
				if err != nil {
					return err
				}
				return writeJSONLine(cmd.OutOrStdout(), r)
			})
		},
	}
	cmd.Flags().StringVar(&cycle, "cycle", "", "Cycle UUID (default: all open cycles)")
	return cmd
}

func newPoolExportCmd() *cobra.Command {
	var cycle, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the pool summary as an xlsx workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cycleID, err := parseOptionalUUID("cycle", cycle)
			if err != nil {
				return err
			}
			if strings.TrimSpace(output) == "" {
				return withCode(exitUsage, fmt.Errorf("--output is required"))
			}
			return withPoolService(cmd.Context(), func(ctx context.Context, svc *services.PoolService) error {
				data, err := svc.Export(ctx, cycleID)
				if err != nil {
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&cycle, "cycle", "", "Cycle UUID (default: all open cycles)")
	cmd.Flags().StringVar(&output, "output", "", "Destination .xlsx path (required)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newSerialPreviewCmd() *cobra.Command {
	var grantCall, cycle, state string
	cmd := &cobra.Command{
		Use:   "serial-preview",
		Short: "Show the serials the next pre-assignment would receive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gcID, err := parseRequiredUUID("grant-call", grantCall)
			if err != nil {
				return err
			}
			cycleID, err := parseRequiredUUID("cycle", cycle)
			if err != nil {
				return err
			}
			if strings.TrimSpace(state) == "" {
				return withCode(exitUsage, fmt.Errorf("--state is required"))
			}
			return withPoolService(cmd.Context(), func(ctx context.Context, svc *services.PoolService) error {
				p, err := svc.PreviewSerial(ctx, gcID, cycleID, state)
				if err != nil {
					return err
				}
				return writeJSONLine(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&grantCall, "grant-call", "", "Grant call UUID (required)")
	cmd.Flags().StringVar(&cycle, "cycle", "", "Cycle UUID (required)")
	cmd.Flags().StringVar(&state, "state", "", "State name (required)")
	return cmd
}
