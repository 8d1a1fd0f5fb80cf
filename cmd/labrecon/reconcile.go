// reconcile.go - The reconcile command

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/internal/ai"
	"github.com/bosocmputer/lab_report_reconciler/internal/common"
	"github.com/bosocmputer/lab_report_reconciler/internal/pipeline"
	"github.com/spf13/cobra"
)

type reconcileOptions struct {
	input         string
	candidates    []string
	images        []string
	categorize    bool
	heuristicOnly bool
	showStats     bool
	timeout       time.Duration
}

func reconcileCmd() *cobra.Command {
	opts := &reconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Extract and reconcile test results from a report text file",
		Example: `  labrecon reconcile --input report.txt
  labrecon reconcile --input - --candidates first_pass.json --categorize < report.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "report text file, - for stdin")
	cmd.Flags().StringArrayVarP(&opts.candidates, "candidates", "c", nil, "file holding a raw JSON candidate list (repeatable)")
	cmd.Flags().StringArrayVar(&opts.images, "image", nil, "page image sent with the first segment (repeatable)")
	cmd.Flags().BoolVar(&opts.categorize, "categorize", false, "group results into categories")
	cmd.Flags().BoolVar(&opts.heuristicOnly, "heuristic-only", false, "skip AI extraction and use the line extractor")
	cmd.Flags().BoolVar(&opts.showStats, "stats", false, "print run statistics to stderr")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall time limit")
	return cmd
}

func runReconcile(cmd *cobra.Command, opts *reconcileOptions) error {
	if opts.input == "" && len(opts.candidates) == 0 && len(opts.images) == 0 {
		return fmt.Errorf("one of --input, --candidates or --image is required")
	}
	if err := bootstrap(opts.heuristicOnly); err != nil {
		return err
	}

	req := pipeline.Request{Categorize: opts.categorize}
	if opts.input != "" {
		text, err := readInput(cmd.InOrStdin(), opts.input)
		if err != nil {
			return err
		}
		req.Text = text
	}
	for _, path := range opts.candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read candidates: %w", err)
		}
		req.Candidates = append(req.Candidates, string(data))
	}
	for _, path := range opts.images {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		req.Images = append(req.Images, ai.BinaryFile{
			Name:     filepath.Base(path),
			MIMEType: http.DetectContentType(data),
			Data:     data,
		})
	}

	ctx := cmd.Context()
	dict, closeDict, err := loadDictionary(ctx)
	if err != nil {
		return err
	}
	defer closeDict()

	var extractor ai.Extractor
	var repairer ai.Repairer
	if !opts.heuristicOnly {
		if extractor, repairer, err = ai.CreateExtractor(); err != nil {
			return err
		}
	}

	stderr := cmd.ErrOrStderr()
	req.Progress = func(done, total int) {
		fmt.Fprintf(stderr, "segment %d/%d\n", done, total)
	}

	cfg := pipeline.ConfigFromEnv()
	engine := pipeline.NewEngine(dict, extractor, repairer, nil, cfg)

	runCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	reqCtx := common.NewRequestContext("cli/reconcile")
	result, err := engine.Run(runCtx, req, reqCtx)
	if err != nil {
		return fmt.Errorf("reconcile aborted: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Output()); err != nil {
		return err
	}

	if opts.showStats {
		stats, _ := json.MarshalIndent(result.Stats, "", "  ")
		fmt.Fprintln(stderr, string(stats))
		for _, p := range result.Previews {
			fmt.Fprintf(stderr, "unparseable segment %d/%d: %s\n", p.Chunk, p.Window, p.Preview)
		}
	}
	if result.EmptyReason != "" {
		fmt.Fprintf(stderr, "no tests found: %s\n", result.EmptyReason)
	}
	return nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}
