package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/nao1215/prodcrawl/internal/config"
	"github.com/nao1215/prodcrawl/internal/database"
	"github.com/nao1215/prodcrawl/internal/model"
	"github.com/nao1215/prodcrawl/internal/report"
)

// historyTimeLayout is how run timestamps are shown in listings.
const historyTimeLayout = "2006-01-02 15:04:05"

// NewHistoryCmd creates the history command.
// It lists past runs and compares the two latest runs of a domain.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [domain]",
		Short: "Show past crawl runs and what changed between them",
		Long: `History reads the runs saved by 'prodcrawl crawl'.

Without arguments it lists the most recent runs. With a domain it compares
the two latest runs that crawled that domain and shows which product URLs
are new and which disappeared.

Examples:
  # List recent runs
  prodcrawl history

  # List every domain ever crawled
  prodcrawl history --domains

  # What changed on a shop since the previous run
  prodcrawl history shop.example

  # Show the product URLs of one run
  prodcrawl history --run 6f1c...

  # Output the comparison as JSON or Markdown
  prodcrawl history --json shop.example
  prodcrawl history --markdown shop.example`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", 20,
		"Number of runs to list (0 = all)")
	cmd.Flags().Bool("domains", false,
		"List every domain in the database")
	cmd.Flags().String("run", "",
		"Show the product URLs of the run with this ID")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")
	cmd.Flags().BoolP("json", "j", false,
		"Output the comparison in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output the comparison in Markdown format")

	return cmd
}

// historyOptions are the parsed history flags.
type historyOptions struct {
	limit    int
	domains  bool
	runID    string
	dbDir    string
	json     bool
	markdown bool
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	opts, err := parseHistoryFlags(cmd)
	if err != nil {
		return err
	}
	if opts.json && opts.markdown {
		return fmt.Errorf("%w: --json and --markdown cannot be used together", errConfiguration)
	}

	// Validate the domain before opening the database
	var domain string
	if len(args) == 1 {
		d, err := model.NewDomain(args[0], "")
		if err != nil {
			return fmt.Errorf("%w: invalid domain %q: %w", errConfiguration, args[0], err)
		}
		domain = d.String()
	}

	db, err := database.Open(opts.dbDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	switch {
	case opts.domains:
		return listDomains(ctx, db, out)
	case opts.runID != "":
		return showRun(ctx, db, opts.runID, out)
	case domain != "":
		diff, err := compareLatestRuns(ctx, db, domain)
		if err != nil {
			return err
		}
		switch {
		case opts.json:
			return outputDiffJSON(out, diff)
		case opts.markdown:
			return outputDiffMarkdown(out, diff)
		default:
			return outputDiffText(out, diff)
		}
	default:
		return listRuns(ctx, db, opts.limit, out)
	}
}

// parseHistoryFlags reads the history flags.
func parseHistoryFlags(cmd *cobra.Command) (historyOptions, error) {
	var opts historyOptions
	var err error

	if opts.limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return opts, err
	}
	if opts.domains, err = cmd.Flags().GetBool("domains"); err != nil {
		return opts, err
	}
	if opts.runID, err = cmd.Flags().GetString("run"); err != nil {
		return opts, err
	}
	if opts.dbDir, err = cmd.Flags().GetString("db-dir"); err != nil {
		return opts, err
	}
	if opts.json, err = cmd.Flags().GetBool("json"); err != nil {
		return opts, err
	}
	if opts.markdown, err = cmd.Flags().GetBool("markdown"); err != nil {
		return opts, err
	}
	return opts, nil
}

// listRuns prints the most recent runs.
func listRuns(ctx context.Context, db *database.CrawlDB, limit int, out io.Writer) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No crawl runs found in the database.")
		fmt.Fprintln(out, "\nUse 'prodcrawl crawl <domain>' to crawl a shop.")
		return nil
	}

	fmt.Fprintf(out, "Crawl runs (%d):\n\n", len(runs))
	fmt.Fprintf(out, "  %-36s  %-19s  %9s  %8s  %s\n", "Run ID", "Started", "Products", "Duration", "Domains")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 100))

	for _, run := range runs {
		status := ""
		if run.Stats.Cancelled {
			status = " (partial)"
		}
		fmt.Fprintf(out, "  %-36s  %-19s  %9d  %8s  %s%s\n",
			run.RunID,
			run.StartedAt.Local().Format(historyTimeLayout),
			run.TotalProducts,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			strings.Join(run.Seeds, ", "),
			status,
		)
	}

	fmt.Fprintln(out, "\nUse 'prodcrawl history <domain>' to see what changed since the previous run.")
	return nil
}

// listDomains prints every domain that has been crawled.
func listDomains(ctx context.Context, db *database.CrawlDB, out io.Writer) error {
	domains, err := db.ListDomains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}

	if len(domains) == 0 {
		fmt.Fprintln(out, "No crawled domains found in the database.")
		return nil
	}

	fmt.Fprintf(out, "Crawled domains (%d):\n\n", len(domains))
	for _, d := range domains {
		fmt.Fprintf(out, "  • %s\n", d)
	}
	return nil
}

// showRun prints one run with every product URL.
func showRun(ctx context.Context, db *database.CrawlDB, runID string, out io.Writer) error {
	result, err := db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	if result == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	_, err = report.NewTextWriter(out, report.WithVerbose(true)).Write(result)
	return err
}

// errNotEnoughRuns is returned when a domain has fewer than two runs.
var errNotEnoughRuns = errors.New("at least 2 runs are required for comparison")

// RunSummary describes one side of a comparison.
type RunSummary struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// ProductCount is the number of product URLs the run found for the domain.
	ProductCount int `json:"product_count"`

	// Partial is true when the run stopped early.
	Partial bool `json:"partial"`
}

// RunDiff is the difference between the two latest runs of a domain.
type RunDiff struct {
	// Domain is the compared domain.
	Domain string `json:"domain"`

	// Previous is the older run.
	Previous RunSummary `json:"previous"`

	// Current is the newer run.
	Current RunSummary `json:"current"`

	// Added are product URLs found only by the current run, in its order.
	Added []string `json:"added"`

	// Removed are product URLs found only by the previous run, in its order.
	Removed []string `json:"removed"`

	// UnchangedCount is the number of URLs found by both runs.
	UnchangedCount int `json:"unchanged_count"`
}

// compareLatestRuns loads the two latest runs of domain and diffs them.
func compareLatestRuns(ctx context.Context, db *database.CrawlDB, domain string) (*RunDiff, error) {
	runs, err := db.LatestRuns(ctx, domain, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to get runs for %s: %w", domain, err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs found for %s", domain)
	}
	if len(runs) < 2 {
		return nil, fmt.Errorf("%w (found 1 for %s)", errNotEnoughRuns, domain)
	}

	current, previous := runs[0], runs[1]

	currentURLs, err := db.DomainProducts(ctx, current.RunID, domain)
	if err != nil {
		return nil, err
	}
	previousURLs, err := db.DomainProducts(ctx, previous.RunID, domain)
	if err != nil {
		return nil, err
	}

	diff := diffProducts(previousURLs, currentURLs)
	diff.Domain = domain
	diff.Previous = summarizeRun(previous)
	diff.Current = summarizeRun(current)
	return diff, nil
}

// summarizeRun converts database metadata to a RunSummary.
func summarizeRun(meta database.RunMetadata) RunSummary {
	return RunSummary{
		RunID:        meta.RunID,
		StartedAt:    meta.StartedAt,
		ProductCount: meta.TotalProducts,
		Partial:      meta.Stats.Cancelled,
	}
}

// diffProducts compares two URL lists. Added and Removed keep the order of
// the list they come from.
func diffProducts(previous, current []string) *RunDiff {
	prevSet := make(map[string]struct{}, len(previous))
	for _, u := range previous {
		prevSet[u] = struct{}{}
	}
	currSet := make(map[string]struct{}, len(current))
	for _, u := range current {
		currSet[u] = struct{}{}
	}

	diff := &RunDiff{Added: []string{}, Removed: []string{}}
	for _, u := range current {
		if _, ok := prevSet[u]; ok {
			diff.UnchangedCount++
			continue
		}
		diff.Added = append(diff.Added, u)
	}
	for _, u := range previous {
		if _, ok := currSet[u]; !ok {
			diff.Removed = append(diff.Removed, u)
		}
	}
	return diff
}

// formatDelta formats a count change with an explicit sign.
func formatDelta(delta int) string {
	if delta > 0 {
		return "+" + strconv.Itoa(delta)
	}
	return strconv.Itoa(delta)
}

// partialMark is appended to runs that stopped early.
func partialMark(s RunSummary) string {
	if s.Partial {
		return " (partial)"
	}
	return ""
}

// outputDiffJSON outputs the comparison in JSON format.
func outputDiffJSON(out io.Writer, diff *RunDiff) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(diff)
}

// outputDiffText outputs the comparison in human-readable text format.
func outputDiffText(out io.Writer, diff *RunDiff) error {
	fmt.Fprintf(out, "Product URL changes for %s\n", diff.Domain)
	fmt.Fprintln(out, strings.Repeat("=", 70))
	fmt.Fprintf(out, "Previous: %s  %s  %d URLs%s\n",
		diff.Previous.StartedAt.Local().Format(historyTimeLayout), diff.Previous.RunID,
		diff.Previous.ProductCount, partialMark(diff.Previous))
	fmt.Fprintf(out, "Current:  %s  %s  %d URLs%s\n",
		diff.Current.StartedAt.Local().Format(historyTimeLayout), diff.Current.RunID,
		diff.Current.ProductCount, partialMark(diff.Current))
	fmt.Fprintf(out, "Change:   %s\n", formatDelta(diff.Current.ProductCount-diff.Previous.ProductCount))
	fmt.Fprintln(out, strings.Repeat("-", 70))

	if len(diff.Added) == 0 && len(diff.Removed) == 0 {
		fmt.Fprintf(out, "No changes (%d URLs unchanged)\n", diff.UnchangedCount)
		return nil
	}

	if len(diff.Added) > 0 {
		fmt.Fprintf(out, "\nNew (%d):\n", len(diff.Added))
		for _, u := range diff.Added {
			fmt.Fprintf(out, "  + %s\n", u)
		}
	}
	if len(diff.Removed) > 0 {
		fmt.Fprintf(out, "\nRemoved (%d):\n", len(diff.Removed))
		for _, u := range diff.Removed {
			fmt.Fprintf(out, "  - %s\n", u)
		}
	}
	fmt.Fprintf(out, "\n%d URLs unchanged\n", diff.UnchangedCount)
	return nil
}

// outputDiffMarkdown outputs the comparison in Markdown format.
func outputDiffMarkdown(out io.Writer, diff *RunDiff) error {
	md := markdown.NewMarkdown(out)

	md.H1("Product URL Changes: " + diff.Domain)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"", "Previous", "Current", "Change"},
		Rows: [][]string{
			{"Run ID", "`" + diff.Previous.RunID + "`", "`" + diff.Current.RunID + "`", "-"},
			{"Started", diff.Previous.StartedAt.Format(historyTimeLayout), diff.Current.StartedAt.Format(historyTimeLayout), "-"},
			{
				"Product URLs",
				strconv.Itoa(diff.Previous.ProductCount) + partialMark(diff.Previous),
				strconv.Itoa(diff.Current.ProductCount) + partialMark(diff.Current),
				formatDelta(diff.Current.ProductCount - diff.Previous.ProductCount),
			},
		},
	})
	md.PlainText("")

	if diff.Previous.Partial || diff.Current.Partial {
		md.Warningf("One of the runs stopped early. Removed URLs may still exist on %s.", diff.Domain)
		md.PlainText("")
	}

	if len(diff.Added) > 0 {
		md.H2(fmt.Sprintf("New (%d)", len(diff.Added)))
		md.PlainText("")
		md.BulletList(diff.Added...)
		md.PlainText("")
	}
	if len(diff.Removed) > 0 {
		md.H2(fmt.Sprintf("Removed (%d)", len(diff.Removed)))
		md.PlainText("")
		md.BulletList(diff.Removed...)
		md.PlainText("")
	}

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*%d product URLs unchanged*", diff.UnchangedCount)

	return md.Build()
}
