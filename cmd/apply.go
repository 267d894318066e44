package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/apply"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/store"
)

const (
	PromptYes      = "Yes"
	PromptNo       = "No"
	PromptBack     = "back"
	PromptApplyAll = "Apply to all listed jobs"
)

var errExit = errors.New("exit requested")

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply to matched jobs of a candidate",
	Run: func(cmd *cobra.Command, _ []string) {
		runApply(cmd)
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringP("user", "u", "", "candidate id (required)")
	applyCmd.Flags().BoolP("all", "a", false, "apply to every pending match instead of choosing")
	applyCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation")
	applyCmd.Flags().BoolP("bookmarked", "b", false, "consider bookmarked matches only")
	applyCmd.Flags().IntP("limit", "n", 0, "consider at most this many matches")

	applyCmd.MarkFlagRequired("user")
}

func runApply(cmd *cobra.Command) {
	ctx := context.Background()
	log, cfg := setup()

	user, _ := cmd.Flags().GetString("user")
	log = logger.WithFields(log, logger.User(user))

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("preparing jobmatch", zap.Error(err))
	}
	defer a.Close()

	bookmarked, _ := cmd.Flags().GetBool("bookmarked")
	limit, _ := cmd.Flags().GetInt("limit")
	pending, err := pendingJobs(ctx, a.store, user, store.MatchFilter{BookmarkedOnly: bookmarked, Limit: limit}, log)
	if err != nil {
		log.Fatal("listing matches", zap.Error(err))
	}

	if len(pending) == 0 {
		log.Info("exiting", zap.String("reason", "no pending matches"), zap.String("hint", "run the match command first"))
		return
	}

	quota, err := a.applier.Quota(ctx, user)
	if err != nil {
		log.Fatal("reading the apply quota", zap.Error(err))
	}
	log.Info("pending matches", zap.Int("count", len(pending)), zap.Int("remaining_today", quota.Remaining()))

	all, _ := cmd.Flags().GetBool("all")
	autoApprove, _ := cmd.Flags().GetBool("auto-approve")

	if all {
		if !autoApprove && !confirm(fmt.Sprintf("Apply to %d jobs?", len(pending))) {
			log.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
		printOutcomes(a.applier.BatchApply(ctx, user, pending))
		return
	}

	if err := manualApply(ctx, a.applier, user, pending, log); err != nil && !errors.Is(err, errExit) {
		log.Fatal("exiting", zap.Error(err))
	}
}

// pendingJobs returns the postings of matches that were not applied to yet,
// in rank order. Inactive and vanished postings are skipped.
func pendingJobs(ctx context.Context, st store.Store, user string, filter store.MatchFilter, log *zap.Logger) ([]jobs.JobPosting, error) {
	matches, err := st.ListMatches(ctx, user, store.MatchFilter{BookmarkedOnly: filter.BookmarkedOnly})
	if err != nil {
		return nil, err
	}

	var out []jobs.JobPosting
	for _, m := range matches {
		if m.ApplicationStatus == jobs.AppApplied || m.ApplicationStatus == jobs.AppApplying {
			continue
		}
		p, err := st.GetPosting(ctx, m.JobID)
		if err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				log.Debug("skipping vanished posting", logger.Job(m.JobID))
				continue
			}
			return nil, err
		}
		if p.Status == jobs.StatusExpired || p.Status == jobs.StatusClosed {
			log.Debug("skipping inactive posting", logger.Job(m.JobID), zap.String("status", string(p.Status)))
			continue
		}
		out = append(out, p)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func confirm(label string) bool {
	p := promptui.Select{Label: label, Items: []string{PromptYes, PromptNo}}
	_, answer, err := p.Run()
	return err == nil && answer == PromptYes
}

func manualApply(ctx context.Context, o *apply.Orchestrator, user string, pending []jobs.JobPosting, log *zap.Logger) error {
	for {
		items := make([]string, 0, len(pending)+2)
		for _, j := range pending {
			label := fmt.Sprintf("%s %s / %s / %s / %s",
				j.ID, j.Title, j.Company, apply.SelectMethod(j.ExternalURL), j.ExternalURL,
			)
			items = append(items, label)
		}
		if len(pending) != 0 {
			items = append(items, PromptApplyAll)
		}

		jobPrompt := promptui.Select{
			Label: "Choose a job and press ENTER",
			Items: append(items, PromptBack),
			Size:  10,
		}

		_, selected, err := jobPrompt.Run()
		if err != nil {
			return err
		}

		switch selected {
		case PromptBack:
			return errExit
		case PromptApplyAll:
			printOutcomes(o.BatchApply(ctx, user, pending))
			return nil
		default:
			jobID := strings.Split(selected, " ")[0]
			idx := -1
			for i := range pending {
				if pending[i].ID == jobID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("there is no such job id %s", jobID)
			}

			out, err := o.Apply(ctx, user, pending[idx])
			printOutcomes(apply.BatchReport{Outcomes: []apply.Outcome{out}})
			if err != nil {
				var ineligible *apply.IneligibleError
				if errors.As(err, &ineligible) && ineligible.Reason == apply.ReasonLimitReached {
					log.Warn("daily apply limit reached", zap.Error(err))
					return errExit
				}
				log.Warn("apply failed", logger.Job(jobID), zap.Error(err))
			}

			pending = append(pending[:idx], pending[idx+1:]...)
		}
	}
}

func printOutcomes(r apply.BatchReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "JOB\tMETHOD\tSTATE\tDETAIL")
	for _, o := range r.Outcomes {
		detail := o.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.JobID, o.Method, o.State, detail)
	}
	if len(r.Outcomes) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "applied %d, failed %d, manual %d, skipped %d\n", r.Applied, r.Failed, r.RequiresManual, r.Skipped)
	}
	if r.Canceled {
		fmt.Fprintln(w, "batch was canceled")
	}
}
