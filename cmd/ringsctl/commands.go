package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"rings/internal/model"
	"rings/pkg/rings"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		runID        string
		populationID string
		size         int
		maxChildren  int
		cycles       int
		seed         int64
		pairing      string
		useSamples   bool
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a population for a number of cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			p := &cfg.Population
			if f.Changed("population") {
				p.ID = populationID
			}
			if f.Changed("size") {
				p.Size = size
				if !f.Changed("max-children") {
					p.MaxChildren = min(p.MaxChildren, size)
				}
			}
			if f.Changed("max-children") {
				p.MaxChildren = maxChildren
			}
			if f.Changed("cycles") {
				p.Cycles = cycles
			}
			if f.Changed("seed") {
				p.Seed = seed
			}
			if f.Changed("pairing") {
				p.Pairing = pairing
			}
			if f.Changed("samples") {
				cfg.Samples.Use = useSamples
			}

			client, err := opts.openClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			ev := cfg.EvolutionConfig()
			req := rings.EvolveRequest{
				RunID:               runID,
				PopulationID:        ev.PopulationID,
				PopulationSize:      ev.PopulationSize,
				MaxChildren:         ev.MaxChildren,
				OffspringPotentials: ev.OffspringPotentials,
				LowestHealth:        ev.LowestHealth,
				Cycles:              ev.Cycles,
				Seed:                ev.Seed,
				Pairing:             ev.Pairing,
				TournamentSize:      ev.TournamentSize,
				SharingRadius:       ev.SharingRadius,
				Isolated:            ev.Isolated,
				UseSamples:          ev.UseSamples,
			}
			if !quiet && !opts.json {
				req.Progress = cmd.ErrOrStderr()
			}
			summary, runErr := client.Evolve(cmd.Context(), req)
			if req.Progress != nil {
				fmt.Fprintln(req.Progress)
			}
			if summary.RunID == "" {
				return runErr
			}
			out := cmd.OutOrStdout()
			if opts.json {
				if err := writeJSON(out, summary); err != nil {
					return err
				}
				return runErr
			}
			printEvolveSummary(out, cfg.Population.ID, summary)
			return runErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&runID, "run-id", "", "run id (generated when empty)")
	f.StringVarP(&populationID, "population", "p", "", "population id")
	f.IntVar(&size, "size", 0, "population size")
	f.IntVar(&maxChildren, "max-children", 0, "children bred per cycle")
	f.IntVar(&cycles, "cycles", 0, "evolution cycles")
	f.Int64Var(&seed, "seed", 0, "random seed")
	f.StringVar(&pairing, "pairing", "", "parent pairing: ordered|tournament")
	f.BoolVar(&useSamples, "samples", false, "play samples from the sample directory")
	f.BoolVarP(&quiet, "quiet", "q", false, "hide progress markers")
	return cmd
}

func printEvolveSummary(w io.Writer, populationID string, s rings.EvolveSummary) {
	status := color.New(color.FgGreen, color.Bold)
	if s.Status != model.RunCompleted {
		status = color.New(color.FgYellow, color.Bold)
	}
	fmt.Fprintf(w, "run %s run_id=%s population=%s cycles=%d\n", status.Sprint(s.Status), s.RunID, populationID, s.Cycles)
	for i, best := range s.BestByGeneration {
		fmt.Fprintf(w, "generation=%d best_health=%.6f\n", i+1, best)
	}
	fmt.Fprintf(w, "best_health=%.6f best_genome_id=%s\n", s.BestHealth, s.BestGenomeID)
	if s.ArtifactsDir != "" {
		fmt.Fprintf(w, "artifacts_dir=%s\n", cleanPath(s.ArtifactsDir))
	}
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		populationID string
		size         int
		seed         int64
		overwrite    bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Store a freshly generated population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("population") {
				populationID = cfg.Population.ID
			}
			if !cmd.Flags().Changed("size") {
				size = cfg.Population.Size
			}
			if !cmd.Flags().Changed("seed") {
				seed = cfg.Population.Seed
			}
			client, err := opts.openClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			pop, err := client.Generate(cmd.Context(), rings.GenerateRequest{
				PopulationID: populationID,
				Size:         size,
				Seed:         seed,
				Overwrite:    overwrite,
			})
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), pop)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated population=%s genomes=%s\n", pop.ID, humanize.Comma(int64(len(pop.Genomes))))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&populationID, "population", "p", "", "population id")
	f.IntVar(&size, "size", 0, "population size")
	f.Int64Var(&seed, "seed", 0, "random seed")
	f.BoolVar(&overwrite, "overwrite", false, "replace an existing population")
	return cmd
}

func newPopulationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "population",
		Short: "Inspect and move stored populations",
	}

	show := &cobra.Command{
		Use:   "show [population-id]",
		Short: "List the genomes of a population",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			id := cfg.Population.ID
			if len(args) == 1 {
				id = args[0]
			}
			client, err := opts.openClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			pop, err := client.Population(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, pop)
			}
			fmt.Fprintf(out, "population=%s generation=%d genomes=%d\n", pop.ID, pop.Generation, len(pop.Genomes))
			for _, g := range pop.Genomes {
				health := "-"
				if g.Scored {
					health = fmt.Sprintf("%.6f", g.Health)
				}
				fmt.Fprintf(out, "genome_id=%s generation=%d health=%s shape=%v\n", g.ID, g.Generation, health, g.Shape)
			}
			return nil
		},
	}

	export := &cobra.Command{
		Use:   "export <population-id> <file>",
		Short: "Write a population to a population stream file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				n, err := client.ExportPopulation(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported population=%s genomes=%d to=%s\n", args[0], n, cleanPath(args[1]))
				return nil
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import <population-id> <file>",
		Short: "Store the genomes of a population stream file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				n, err := client.ImportPopulation(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported population=%s genomes=%d\n", args[0], n)
				return nil
			})
		},
	}

	cmd.AddCommand(show, export, imp)
	return cmd
}

func newFeaturesCmd(opts *rootOptions) *cobra.Command {
	var similar string
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Extract and list the features of the sample directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				items, err := client.Features(cmd.Context(), similar)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, items)
				}
				for _, f := range items {
					fmt.Fprintf(out, "sample=%s seconds=%.3f peak=%.4f rms=%.4f", f.ID, f.Seconds, f.Peak, f.RMS)
					if f.Similarity != nil {
						fmt.Fprintf(out, " similarity=%.4f", *f.Similarity)
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&similar, "similar", "", "sample to compare every other sample against")
	return cmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs and their artifacts",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				runs, err := client.Runs(cmd.Context(), rings.RunsRequest{Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, runs)
				}
				for _, r := range runs {
					fmt.Fprintf(out, "run_id=%s population=%s status=%s cycles=%d/%d best_health=%.6f started_at=%s\n",
						r.RunID, r.PopulationID, r.Status, r.Completed, r.Cycles, r.BestHealth, r.StartedAtUTC)
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum runs to list (0 for all)")

	report := &cobra.Command{
		Use:   "report [run-id...]",
		Short: "Compare the health series of runs (all indexed runs by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				r, err := client.Report(args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, r)
				}
				for _, s := range r.Runs {
					fmt.Fprintf(out, "run_id=%s generations=%d initial_best=%.6f final_best=%.6f improvement=%+.6f mean_diversity=%.6f\n",
						s.RunID, s.Generations, s.InitialBest, s.FinalBest, s.Improvement, s.MeanDiverse)
				}
				for _, p := range r.Average {
					fmt.Fprintf(out, "generation=%d mean_best=%.6f runs=%d\n", p.Generation, p.Mean, p.Runs)
				}
				fmt.Fprintf(out, "final_mean=%.6f final_std=%.6f final_min=%.6f final_max=%.6f best_run_id=%s best=%.6f\n",
					r.FinalMean, r.FinalStd, r.FinalMin, r.FinalMax, r.BestRunID, r.BestOverall)
				return nil
			})
		},
	}

	cmd.AddCommand(list, report, newDiagnosticsCmd(opts), newLineageCmd(opts), newExportCmd(opts))
	return cmd
}

func historyFlags(cmd *cobra.Command, req *rings.HistoryRequest) {
	f := cmd.Flags()
	f.StringVar(&req.RunID, "run-id", "", "run id")
	f.BoolVar(&req.Latest, "latest", false, "use the most recent run")
	f.IntVar(&req.Limit, "limit", 0, "maximum rows (0 for all)")
}

func newDiagnosticsCmd(opts *rootOptions) *cobra.Command {
	var req rings.HistoryRequest
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print per-generation diagnostics of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				diagnostics, err := client.Diagnostics(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, diagnostics)
				}
				for _, d := range diagnostics {
					fmt.Fprintf(out, "generation=%d evaluated=%d best=%.6f mean=%.6f min=%.6f std=%.6f survivors=%d bred=%d generated=%d dropped=%d diversity=%.6f best_genome_id=%s\n",
						d.Generation, d.Evaluated, d.BestHealth, d.MeanHealth, d.MinHealth, d.StdDevHealth,
						d.Survivors, d.Bred, d.Generated, d.Dropped, d.Diversity, d.BestGenomeID)
				}
				return nil
			})
		},
	}
	historyFlags(cmd, &req)
	return cmd
}

func newLineageCmd(opts *rootOptions) *cobra.Command {
	var req rings.HistoryRequest
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Print the genome lineage of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				lineage, err := client.Lineage(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return writeJSON(out, lineage)
				}
				for _, l := range lineage {
					fmt.Fprintf(out, "generation=%d genome_id=%s op=%s parents=%v\n", l.Generation, l.GenomeID, l.Operation, l.ParentIDs)
				}
				return nil
			})
		},
	}
	historyFlags(cmd, &req)
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var req rings.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run into a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(client *rings.Client) error {
				exported, err := client.Export(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.RunID, "run-id", "", "run id")
	f.BoolVar(&req.Latest, "latest", false, "export the most recent run")
	f.StringVar(&req.OutDir, "out", "", "destination directory (default exports)")
	return cmd
}

func withClient(cmd *cobra.Command, opts *rootOptions, fn func(*rings.Client) error) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := opts.openClient(cmd, cfg)
	if err != nil {
		return err
	}
	err = fn(client)
	return errors.Join(err, client.Close())
}
