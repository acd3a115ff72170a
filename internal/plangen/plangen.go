package plangen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/n9te9/go-graphql-fusion-gateway/federation/planner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const ReportFileName = "report.json"

var operationExtensions = []string{".graphql", ".gql"}

type Config struct {
	SourceDir       string
	OutDir          string
	Concurrency     int
	FailOnPlanError bool
}

type Results struct {
	Plans []Result `json:"plans"`
}

type Result struct {
	FileName string `json:"file_name"`
	Nodes    int    `json:"nodes,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

var ErrPlanFailed = errors.New("some operations failed to plan")

// Generate plans every operation file of cfg.SourceDir, writes one yaml plan per file to
// cfg.OutDir and a report.json summarizing the run. Planning errors are reported per file and
// only fail the run when cfg.FailOnPlanError is set; I/O errors always do.
func Generate(ctx context.Context, p *planner.Planner, cfg Config, logger *zap.Logger) (*Results, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	entries, err := os.ReadDir(cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read operations directory: %w", err)
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		mu      sync.Mutex
		results []Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(operationExtensions, filepath.Ext(entry.Name())) {
			continue
		}
		name := entry.Name()

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := planFile(p, cfg, name)
			if err != nil {
				return err
			}
			if res.Error != "" {
				logger.Warn("operation could not be planned", zap.String("file", name), zap.String("error", res.Error))
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b Result) int {
		return strings.Compare(a.FileName, b.FileName)
	})
	report := &Results{Plans: results}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutDir, ReportFileName), append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}

	if cfg.FailOnPlanError && slices.ContainsFunc(results, func(r Result) bool { return r.Error != "" }) {
		return report, ErrPlanFailed
	}
	return report, nil
}

func planFile(p *planner.Planner, cfg Config, name string) (Result, error) {
	src, err := os.ReadFile(filepath.Join(cfg.SourceDir, name))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read %s: %w", name, err)
	}

	res := Result{FileName: name}
	out := strings.TrimSuffix(name, filepath.Ext(name))

	plan, err := p.PlanSource(string(src), "")
	if err != nil {
		var perr *planner.PlanningError
		if !errors.As(err, &perr) {
			return Result{}, fmt.Errorf("failed to plan %s: %w", name, err)
		}
		res.Error = perr.Error()
		res.Code = string(perr.Kind)
		// Stale plans from earlier runs would be misleading.
		_ = os.Remove(filepath.Join(cfg.OutDir, out+".yaml"))
		return res, nil
	}

	res.Nodes = len(plan.Nodes)
	if err := os.WriteFile(filepath.Join(cfg.OutDir, out+".yaml"), []byte(plan.String()), 0o644); err != nil {
		return Result{}, fmt.Errorf("failed to write plan of %s: %w", name, err)
	}
	return res, nil
}
