package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/ranking"
	"github.com/spigell/jobmatch/internal/store"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Rank stored postings for a candidate, save and print the matches",
	Run: func(cmd *cobra.Command, _ []string) {
		match(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("user", "u", "", "candidate id (required)")
	matchCmd.Flags().StringP("resume", "r", "", "file with the candidate resume text")
	matchCmd.Flags().StringP("query", "q", "", "free text query used instead of a resume")
	matchCmd.Flags().IntP("limit", "n", 0, "maximum number of matches (default is matching.limit)")
	matchCmd.Flags().StringSlice("history", nil, "past search queries of the candidate")
	matchCmd.Flags().Bool("saved", false, "print the stored matches without ranking again")
	matchCmd.Flags().Bool("report", false, "print the full run as json")

	matchCmd.MarkFlagRequired("user")
	matchCmd.MarkFlagsMutuallyExclusive("resume", "query")
}

func match(cmd *cobra.Command) {
	ctx := context.Background()
	log, cfg := setup()

	user, _ := cmd.Flags().GetString("user")
	log = logger.WithFields(log, logger.User(user))

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("preparing jobmatch", zap.Error(err))
	}
	defer a.Close()

	if saved, _ := cmd.Flags().GetBool("saved"); saved {
		results, err := a.store.ListMatches(ctx, user, store.MatchFilter{})
		if err != nil {
			log.Fatal("listing matches", zap.Error(err))
		}
		printMatches(ctx, a.store, results)
		return
	}

	query, err := queryText(cmd)
	if err != nil {
		log.Fatal("reading the query", zap.Error(err))
	}
	limit, _ := cmd.Flags().GetInt("limit")
	history, _ := cmd.Flags().GetStringSlice("history")

	run, err := a.engine.Match(ctx, ranking.Request{
		UserID:      user,
		QueryText:   query,
		Preferences: cfg.Preferences[user],
		History:     history,
		Limit:       limit,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrNoCorpus) {
			log.Fatal("nothing to match against", zap.Error(err), zap.String("hint", "run the aggregate command first"))
		}
		log.Fatal("matching failed", zap.Error(err))
	}

	if err := a.store.SaveMatches(ctx, run.Results); err != nil {
		log.Fatal("saving matches", zap.Error(err))
	}

	log.Info("matching finished",
		logger.Run(run.ID),
		zap.Int("matches", len(run.Results)),
		zap.String("query_origin", string(run.QueryOrigin)),
		zap.Int("corpus", run.Stats.Corpus),
	)

	if full, _ := cmd.Flags().GetBool("report"); full {
		pretty, _ := json.MarshalIndent(run, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	printMatches(ctx, a.store, run.Results)
}

func queryText(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("resume"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	q, _ := cmd.Flags().GetString("query")
	if strings.TrimSpace(q) == "" {
		return "", errors.New("either --resume or --query is required")
	}
	return q, nil
}

func printMatches(ctx context.Context, st store.Store, results []jobs.MatchResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "JOB\tSCORE\tLEVEL\tSTATUS\tTITLE\tCOMPANY\tREASONS")
	for _, m := range results {
		title, company := "?", "?"
		if p, err := st.GetPosting(ctx, m.JobID); err == nil {
			title, company = p.Title, p.Company
		}
		fmt.Fprintf(w, "%s\t%.3f\t%s\t%s\t%s\t%s\t%s\n",
			m.JobID, m.SimilarityScore, m.MatchLevel, m.ApplicationStatus, title, company, strings.Join(m.MatchReasons, "; "))
	}
}
