package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ingest"
	"github.com/spigell/jobmatch/internal/sources"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Fetch postings from every active source, clean them and store them",
	Run: func(cmd *cobra.Command, _ []string) {
		aggregate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)

	aggregateCmd.Flags().StringSliceP("keywords", "k", nil, "search keywords (default is schedule.keywords)")
	aggregateCmd.Flags().StringP("location", "l", "", "location to search in (default is schedule.location)")
	aggregateCmd.Flags().StringSlice("hashtags", nil, "hashtags for social sources")
	aggregateCmd.Flags().Bool("report", false, "print the full report as json")

	viper.BindPFlag("schedule.keywords", aggregateCmd.Flags().Lookup("keywords"))
	viper.BindPFlag("schedule.location", aggregateCmd.Flags().Lookup("location"))
}

func aggregate(cmd *cobra.Command) {
	ctx := context.Background()
	log, cfg := setup()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("preparing jobmatch", zap.Error(err))
	}
	defer a.Close()

	if err := a.pipeline.Restore(ctx); err != nil {
		log.Warn("restoring source bookkeeping", zap.Error(err))
	}

	hashtags, _ := cmd.Flags().GetStringSlice("hashtags")
	q := sources.Query{Keywords: cfg.Schedule.Keywords, Location: cfg.Schedule.Location, Hashtags: hashtags}

	log.Info("starting the aggregation", zap.Strings("keywords", q.Keywords), zap.String("location", q.Location))

	report, err := a.pipeline.Run(ctx, q)
	if err != nil {
		log.Fatal("aggregation failed", zap.Error(err))
	}

	expired, err := a.pipeline.Expire(ctx, cfg.Schedule.ExpireAfter)
	if err != nil {
		log.Warn("expiring stale postings", zap.Error(err))
	}
	log.Info("expired stale postings", zap.Int("count", expired))

	if full, _ := cmd.Flags().GetBool("report"); full {
		// do not bother error since the report is plain data
		pretty, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	printReport(report)
}

func printReport(r ingest.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	ids := make([]string, 0, len(r.Sources))
	for id := range r.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(w, "SOURCE\tKIND\tFETCHED\tPAGES\tTOOK\tERROR")
	for _, id := range ids {
		o := r.Sources[id]
		errText := "-"
		if o.Err != nil {
			errText = o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", id, o.Kind, o.Fetched, o.Pages, o.Duration.Round(time.Millisecond), errText)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "fetched\t%d\n", r.Fetched)
	fmt.Fprintf(w, "normalized\t%d (invalid %d)\n", r.Normalized, r.Invalid)
	fmt.Fprintf(w, "kept\t%d (duplicates %d)\n", r.Kept, r.Duplicates)
	fmt.Fprintf(w, "embedded\t%d (reused %d, failed %d)\n", r.Embedded, r.Reused, r.EmbedFailed)
	fmt.Fprintf(w, "saved\t%d\n", r.Saved)
}
