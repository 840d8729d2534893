package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/config"
	"github.com/JakeFAU/prodscout/internal/discovery"
	"github.com/JakeFAU/prodscout/internal/pipeline"
)

// summaryRows caps the repositories printed after a run; the export has all of them.
const summaryRows = 20

type runFlags struct {
	mode       string
	queries    []string
	query      string
	maxResults int
	minScore   int
	minStars   int
	clone      bool
}

// newRunCmd creates the 'run' subcommand, which executes one discovery run in
// the foreground and prints a summary.
func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one discovery pass and print the scored repositories",
		Long: `Runs the pipeline once. In dork mode each query is sent to the search
backend and every Replit page found is scanned for GitHub links. In github mode
the GitHub repository search is used directly. Interrupt to cancel the run at
the next repository boundary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req := flags.request(cmd, appInstance.Config())
			logger := appInstance.Logger()
			res, err := appInstance.Execute(cmd.Context(), req, func(u pipeline.Update) {
				logger.Info(u.Step,
					zap.String("milestone", string(u.Milestone)),
					zap.Int("current", u.Current),
					zap.Int("total", u.Total),
				)
			})
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.mode, "mode", "", "discovery mode: dork or github (default from config)")
	f.StringSliceVar(&flags.queries, "queries", nil, "search queries for dork mode (default from config or dorks file)")
	f.StringVar(&flags.query, "query", "", "repository search query for github mode")
	f.IntVar(&flags.maxResults, "max-results", 0, "results requested per search query")
	f.IntVar(&flags.minScore, "min-score", 0, "score threshold for the production category")
	f.IntVar(&flags.minStars, "min-stars", 0, "minimum stars in github mode")
	f.BoolVar(&flags.clone, "clone", false, "clone repositories and run the security scanners")
	return cmd
}

// request merges explicitly set flags over the configured defaults.
func (f *runFlags) request(cmd *cobra.Command, cfg config.Config) pipeline.Request {
	changed := cmd.Flags().Changed
	req := pipeline.Request{
		Mode:       discovery.Mode(cfg.Pipeline.Mode),
		Queries:    f.queries,
		MaxResults: cfg.Search.MaxResults,
		Clone:      cfg.Pipeline.Clone,
		Query:      cfg.Pipeline.Query,
		MinStars:   cfg.Pipeline.MinStars,
	}
	if f.mode != "" {
		req.Mode = discovery.Mode(strings.ToLower(f.mode))
	}
	if f.query != "" {
		req.Query = f.query
	}
	if changed("max-results") {
		req.MaxResults = f.maxResults
	}
	if changed("min-score") {
		score := f.minScore
		req.MinScore = &score
	}
	if changed("min-stars") {
		req.MinStars = f.minStars
	}
	if changed("clone") {
		req.Clone = f.clone
	}
	return req
}

func printSummary(w io.Writer, res pipeline.Result) {
	fmt.Fprintf(w, "run %s %s: %d candidates, %d repositories\n", res.RunID, res.Status, res.Candidates, res.Repositories)

	states := make([]string, 0, len(res.Outcomes))
	for state := range res.Outcomes {
		states = append(states, string(state))
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Fprintf(w, "  %-10s %d\n", state, res.Outcomes[discovery.RepoState(state)])
	}
	if res.ExportURI != "" {
		fmt.Fprintf(w, "export: %s\n", res.ExportURI)
	}
	if res.Notified > 0 {
		fmt.Fprintf(w, "notifications: %d\n", res.Notified)
	}
	if len(res.Records) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tCATEGORY\tSTARS\tLANGUAGE\tREPOSITORY")
	for i, rec := range res.Records {
		if i == summaryRows {
			fmt.Fprintf(tw, "...\t\t\t\t(%d more)\n", len(res.Records)-summaryRows)
			break
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", rec.Score, rec.Category, rec.Stars, rec.Language, rec.RepoURL)
	}
	tw.Flush() //nolint:errcheck // best-effort terminal output
}
