package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/graph"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"github.com/n9te9/go-graphql-fusion-gateway/gateway"
	"github.com/n9te9/go-graphql-fusion-gateway/internal/logging"
	"github.com/n9te9/go-graphql-fusion-gateway/internal/plangen"
	"github.com/n9te9/go-graphql-fusion-gateway/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "v0.0.0-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Fusion Gateway",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Fusion Gateway %s\n", version)
	},
}

func newPlanner(schemaFile string, maxDepth int) (*planner.Planner, error) {
	src, err := os.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read composite schema: %w", err)
	}
	schema, err := graph.NewCompositeSchema(src)
	if err != nil {
		return nil, err
	}
	return planner.New(schema, planner.WithMaxRequirementDepth(maxDepth)), nil
}

func newPlanCmd() *cobra.Command {
	var (
		schemaFile    string
		operationFile string
		operationName string
		format        string
		maxDepth      int
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan one operation against a composite schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPlanner(schemaFile, maxDepth)
			if err != nil {
				return err
			}
			src, err := os.ReadFile(operationFile)
			if err != nil {
				return fmt.Errorf("failed to read operation: %w", err)
			}

			plan, err := p.PlanSource(string(src), operationName)
			if err != nil {
				return err
			}

			switch format {
			case "yaml":
				return planner.SerializePlan(cmd.OutOrStdout(), plan)
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			default:
				return fmt.Errorf("unknown format %q, expected yaml or json", format)
			}
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "composite schema SDL file")
	cmd.Flags().StringVar(&operationFile, "operation", "", "operation document file")
	cmd.Flags().StringVar(&operationName, "operation-name", "", "operation to plan when the document has several")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	cmd.Flags().IntVar(&maxDepth, "max-requirement-depth", planner.MaxRequirementDepth, "maximum depth of nested requirements")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("operation")
	return cmd
}

func newPlanDirCmd() *cobra.Command {
	var (
		schemaFile string
		maxDepth   int
		cfg        plangen.Config
	)

	cmd := &cobra.Command{
		Use:   "plan-dir",
		Short: "Plan every operation file of a directory and write a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPlanner(schemaFile, maxDepth)
			if err != nil {
				return err
			}

			logger := logging.New(true, false, zapcore.InfoLevel)
			defer logger.Sync() //nolint:errcheck

			report, err := plangen.Generate(cmd.Context(), p, cfg, logger)
			if report != nil {
				failed := 0
				for _, r := range report.Plans {
					if r.Error != "" {
						failed++
					}
				}
				logger.Info("planning finished",
					zap.Int("operations", len(report.Plans)),
					zap.Int("failed", failed),
					zap.String("report", filepath.Join(cfg.OutDir, plangen.ReportFileName)),
				)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&schemaFile, "schema", "", "composite schema SDL file")
	cmd.Flags().StringVar(&cfg.SourceDir, "source", "", "directory of .graphql/.gql operation files")
	cmd.Flags().StringVar(&cfg.OutDir, "out", "plans", "output directory")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 0, "number of concurrent planners, defaults to GOMAXPROCS")
	cmd.Flags().BoolVar(&cfg.FailOnPlanError, "fail-on-error", false, "exit non-zero when an operation cannot be planned")
	cmd.Flags().IntVar(&maxDepth, "max-requirement-depth", planner.MaxRequirementDepth, "maximum depth of nested requirements")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Fusion Gateway planning server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opt, err := gateway.LoadOption(configPath)
			if err != nil {
				return err
			}

			level, err := logging.ParseLevel(opt.Log.Level)
			if err != nil {
				return err
			}
			logger := logging.New(opt.Log.Pretty, false, level)
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			if err := server.Run(ctx, *opt, logger); err != nil {
				logger.Error("gateway stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "gateway config file, defaults to $CONFIG_PATH or "+gateway.DefaultConfigPath)
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "fusion-gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newPlanDirCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var perr *planner.PlanningError
		if errors.As(err, &perr) {
			fmt.Fprintln(os.Stderr, perr.Error())
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
