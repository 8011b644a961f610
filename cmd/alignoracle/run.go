package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/alignoracle/internal/core"
	"github.com/agenthands/alignoracle/internal/core/model"
)

var reportJSON bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the alignment pipeline once",
	Long: `Runs one pipeline pass in the configured mode:

  alignment_only     load the engine's alignment and keep its decisions
  consultation_only  resume from pipeline.checkpoint_path and consult the oracle
  full_loop          align, consult the oracle and reconcile

Artifacts are written to the configured artifact store under the run ID.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().BoolVar(&reportJSON, "json", false, "print the run report as JSON")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := core.New(ctx, cfg, core.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.Run(ctx)
	if err != nil {
		var runErr *core.RunError
		if errors.As(err, &runErr) {
			logger.Error("run failed",
				zap.String("run_id", runErr.RunID),
				zap.String("last_completed", string(runErr.LastCompleted)),
				zap.Int("partial_verdicts", len(runErr.Partial)))
		}
		return err
	}

	out := cmd.OutOrStdout()
	if reportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func printReport(w io.Writer, r *core.Report) {
	fmt.Fprintf(w, "run %s (%s, template %s)\n", r.RunID, r.Mode, r.TemplateID)
	if r.ResumedFrom != "" {
		fmt.Fprintf(w, "  resumed from  %s\n", r.ResumedFrom)
	}
	fmt.Fprintf(w, "  candidates    %d\n", r.Candidates)
	fmt.Fprintf(w, "  asked oracle  %d\n", r.Asked)
	fmt.Fprintf(w, "  accepted      %d\n", r.Summary.Accepted)
	fmt.Fprintf(w, "  rejected      %d\n", r.Summary.Rejected)

	provenances := make([]string, 0, len(r.Summary.ByProvenance))
	for p := range r.Summary.ByProvenance {
		provenances = append(provenances, string(p))
	}
	sort.Strings(provenances)
	for _, p := range provenances {
		fmt.Fprintf(w, "    %-30s %d\n", p, r.Summary.ByProvenance[model.Provenance(p)])
	}
	fmt.Fprintf(w, "  tokens        %d in / %d out\n", r.Usage.InputTokens, r.Usage.OutputTokens)
	if r.Realigned > 0 {
		fmt.Fprintf(w, "  realigned     %d\n", r.Realigned)
	}
	fmt.Fprintf(w, "  elapsed       %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
