package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kirillkom/contract-analyzer/internal/adapters/export"
	"github.com/kirillkom/contract-analyzer/internal/bootstrap"
	"github.com/kirillkom/contract-analyzer/internal/config"
	"github.com/kirillkom/contract-analyzer/internal/core/domain"
	"github.com/kirillkom/contract-analyzer/internal/observability/logging"
)

const service = "contract-analyzer-cli"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	file     string
	question string
	k        int
	asJSON   bool
	xlsxPath string
	remote   bool
	timeout  time.Duration
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.file, "file", "", "path to the contract (.pdf or plain text)")
	fs.StringVar(&opts.question, "query", "", "extra question to run against the clause index")
	fs.IntVar(&opts.k, "k", 5, "number of clauses to retrieve for -query")
	fs.BoolVar(&opts.asJSON, "json", false, "print the full result as JSON")
	fs.StringVar(&opts.xlsxPath, "xlsx", "", "also write the result workbook to this path")
	fs.BoolVar(&opts.remote, "remote", false, "send the job to a worker over NATS instead of analyzing locally")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.file == "" && fs.NArg() > 0 {
		opts.file = fs.Arg(0)
	}
	if opts.file == "" {
		return opts, errors.New("a contract file is required (-file path)")
	}
	if opts.remote && opts.question != "" {
		return opts, errors.New("-query needs a local run; it cannot be combined with -remote")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "error:", err)
		}
		return 2
	}

	cfg, err := config.Load()
	logger := logging.NewJSONLoggerTo(stderr, service, cfg.LogLevel)
	if err != nil {
		logger.Error("config_load_failed", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: service, Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		return 1
	}
	defer app.Close()

	var res *domain.AnalysisResult
	if opts.remote {
		queue, qErr := app.OpenQueue()
		if qErr != nil {
			logger.Error("queue_connect_failed", "error", qErr)
			return 1
		}
		res, err = queue.RequestAnalysis(ctx, opts.file)
	} else {
		res, err = app.Analyzer.AnalyzeFile(ctx, opts.file)
	}
	runErr := err
	if runErr != nil {
		logger.Error("analysis_failed", "file", opts.file, "error", runErr)
		if res == nil {
			return 1
		}
	}

	var extra []domain.RetrievedClause
	if opts.question != "" && runErr == nil && res.Outcome != domain.OutcomeEmpty {
		extra, err = app.Analyzer.QueryRun(ctx, res.RunID, opts.question, opts.k)
		if err != nil {
			logger.Error("query_failed", "error", err)
			return 1
		}
	}

	if opts.xlsxPath != "" {
		if err := writeWorkbook(opts.xlsxPath, res); err != nil {
			logger.Error("export_failed", "path", opts.xlsxPath, "error", err)
			return 1
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		payload := map[string]any{"result": res}
		if opts.question != "" {
			payload["query"] = map[string]any{"question": opts.question, "results": extra}
		}
		if err := enc.Encode(payload); err != nil {
			return 1
		}
	} else {
		printReport(stdout, res, opts.question, extra)
	}
	return exitCode(res, runErr)
}

// exitCode reports an aborted run as a failure even when its partial result was printed.
func exitCode(res *domain.AnalysisResult, runErr error) int {
	switch {
	case runErr != nil || res == nil:
		return 1
	case res.Outcome == domain.OutcomeEmpty:
		return 3
	default:
		return 0
	}
}

func writeWorkbook(path string, res *domain.AnalysisResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook file: %w", err)
	}
	if err := export.WriteWorkbook(f, res); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printReport(w io.Writer, res *domain.AnalysisResult, question string, extra []domain.RetrievedClause) {
	outcome := string(res.Outcome)
	if outcome == "" {
		outcome = "aborted"
	}
	fmt.Fprintf(w, "Run %s  source=%s  outcome=%s\n", res.RunID, res.SourceFile, outcome)
	if res.Degraded {
		fmt.Fprintf(w, "Degraded: %s\n", res.DegradedReason)
	}
	if res.Outcome == domain.OutcomeEmpty {
		fmt.Fprintln(w, "No clauses could be extracted from the document.")
		return
	}
	fmt.Fprintf(w, "Clauses: %d  with obligations: %d\n\n", res.Stats.TotalClauses, res.Stats.WithObligations)

	for i := range res.Clauses {
		c := &res.Clauses[i]
		obligation := "unknown"
		if c.ObligationKnown() {
			obligation = fmt.Sprintf("%t", c.Obligation())
		}
		fmt.Fprintf(w, "[%s] page %d  %s  obligation=%s\n", c.ID, c.Page, c.Label, obligation)
		fmt.Fprintf(w, "    %s\n", preview(c.Text, 160))
		if details := c.Details(); details != "" {
			fmt.Fprintf(w, "    -> %s\n", details)
		}
	}

	if res.IndexError != "" {
		fmt.Fprintf(w, "\nIndex unavailable: %s\n", res.IndexError)
	}
	if res.DefaultQuery != "" {
		printHits(w, res.DefaultQuery, res.Retrieved)
	}
	if question != "" {
		printHits(w, question, extra)
	}

	fmt.Fprintln(w)
	if res.Summary == nil {
		fmt.Fprintln(w, "Summary: not available")
		return
	}
	label := "Summary"
	if res.Summary.RuleBased {
		label = "Summary (rule-based)"
	}
	fmt.Fprintf(w, "%s:\n%s\n", label, res.Summary.Text)
}

func printHits(w io.Writer, question string, hits []domain.RetrievedClause) {
	fmt.Fprintf(w, "\nQuery: %s\n", question)
	if len(hits) == 0 {
		fmt.Fprintln(w, "  no matching clauses")
		return
	}
	for i, hit := range hits {
		fmt.Fprintf(w, "  %d. [%s] score=%.3f  %s\n", i+1, hit.Clause.ID, hit.Score, preview(hit.Clause.Text, 120))
	}
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
