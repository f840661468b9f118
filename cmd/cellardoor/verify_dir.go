package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CellarDoorExits/mcp-server/pkg/service"
)

// fileResult is the verification outcome of one marker file.
type fileResult struct {
	File   string   `json:"file"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type dirReport struct {
	Checked int          `json:"checked"`
	Invalid int          `json:"invalid"`
	Results []fileResult `json:"results"`
}

func newVerifyDirCmd(a *app) *cobra.Command {
	var (
		pattern string
		jobs    int
	)
	cmd := &cobra.Command{
		Use:   "verify-dir <dir>",
		Short: "Verify every marker file under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			matches, err := doublestar.FilepathGlob(filepath.Join(args[0], pattern), doublestar.WithFilesOnly())
			if err != nil {
				return fmt.Errorf("glob %s: %w", pattern, err)
			}
			sort.Strings(matches)

			st, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer st.close(ctx)

			results, err := verifyFiles(ctx, st.svc, matches, jobs)
			if err != nil {
				return err
			}
			report := dirReport{Checked: len(results), Results: results}
			for _, r := range results {
				if !r.Valid {
					report.Invalid++
				}
			}
			if err := a.printJSON(report); err != nil {
				return err
			}
			if report.Invalid > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "**/*.json", "doublestar glob, relative to <dir>")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.NumCPU(), "files verified concurrently")
	return cmd
}

// verifyFiles verifies each file independently. A file that cannot be read
// or decoded is reported invalid; only cancellation aborts the walk.
func verifyFiles(ctx context.Context, svc *service.Service, files []string, jobs int) ([]fileResult, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, file := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = verifyFile(ctx, svc, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func verifyFile(ctx context.Context, svc *service.Service, file string) fileResult {
	data, err := os.ReadFile(file)
	if err != nil {
		return fileResult{File: file, Errors: []string{err.Error()}}
	}
	res, err := svc.VerifyMarker(ctx, data)
	if err != nil {
		return fileResult{File: file, Errors: []string{err.Error()}}
	}
	return fileResult{File: file, Valid: res.Valid, Errors: res.Errors}
}
