package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agenthands/alignoracle/internal/aligner"
	"github.com/agenthands/alignoracle/internal/core/prompt"
	"github.com/agenthands/alignoracle/internal/core/selector"
	"github.com/agenthands/alignoracle/internal/ontology"
)

var showPrompts bool

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Preview the mappings that would be sent to the oracle",
	Long: `Runs the aligner and the uncertainty selector without calling the oracle,
and prints M_ask most uncertain first. With --prompts the rendered prompt of
every selected mapping is printed as well.`,
	Args: cobra.NoArgs,
	RunE: selectMappings,
}

func init() {
	selectCmd.Flags().BoolVar(&showPrompts, "prompts", false, "render the oracle prompt of each selected mapping")
}

func selectMappings(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := aligner.NewEngine(cfg.Aligner)
	if err != nil {
		return err
	}
	candidates, err := engine.Align(ctx)
	if err != nil {
		return err
	}
	band, budget := selector.FromConfig(cfg.Selector)
	mAsk, err := selector.Select(candidates, band, budget)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONFIDENCE\tSOURCE\tRELATION\tTARGET")
	for _, m := range mAsk.Items() {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n", m.Confidence, m.Source, m.Relation, m.Target)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d candidates selected (band %.2f-%.2f, budget %d)\n",
		mAsk.Len(), len(candidates), band.Low, band.High, budget)

	if !showPrompts {
		return nil
	}
	source, err := catalogue(cfg.Task.SourceEntities, "source")
	if err != nil {
		return err
	}
	target, err := catalogue(cfg.Task.TargetEntities, "target")
	if err != nil {
		return err
	}
	builder, err := prompt.NewBuilder(cfg.Prompt, source, target)
	if err != nil {
		return err
	}
	for _, m := range mAsk.Items() {
		p, err := builder.Build(m)
		if err != nil {
			fmt.Fprintf(out, "\n## %s\n(%v)\n", m.ID(), err)
			continue
		}
		fmt.Fprintf(out, "\n## %s [%s]\n", m.ID(), p.Fingerprint[:12])
		for _, msg := range p.Messages {
			fmt.Fprintf(out, "[%s]\n%s\n", msg.Role, msg.Content)
		}
	}
	return nil
}

func catalogue(path, name string) (*ontology.Catalogue, error) {
	if path == "" {
		return ontology.NewCatalogue(name, nil), nil
	}
	return ontology.Load(path)
}
