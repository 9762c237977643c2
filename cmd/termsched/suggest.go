package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"termsched/internal/model"
	"termsched/internal/planner"
)

var suggestOpts struct {
	day        string
	modality   string
	duration   time.Duration
	maxResults int
	exclude    string
	asJSON     bool
}

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Print free slots for a modality on a day",
	RunE:  runSuggest,
}

func init() {
	f := suggestCmd.Flags()
	f.StringVar(&suggestOpts.day, "day", "", "target day as YYYY-MM-DD in the terminal time zone (default today)")
	f.StringVar(&suggestOpts.modality, "modality", "truck", "vessel, truck or rail")
	f.DurationVar(&suggestOpts.duration, "duration", 0, "occupancy to fit (default: modality duration)")
	f.IntVar(&suggestOpts.maxResults, "max", 0, "maximum suggestions (default: terminal setting)")
	f.StringVar(&suggestOpts.exclude, "exclude", "", "operation id to leave off the timeline")
	f.BoolVar(&suggestOpts.asJSON, "json", false, "print JSON")
}

func runSuggest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := planner.New(st, cfg.Terminal, planner.WithLogger(logger))
	day := svc.Now()
	if suggestOpts.day != "" {
		day, err = time.ParseInLocation("2006-01-02", suggestOpts.day, cfg.Terminal.Loc())
		if err != nil {
			return fmt.Errorf("--day: %w", err)
		}
	}
	maxResults := suggestOpts.maxResults
	if maxResults == 0 {
		maxResults = cfg.Terminal.MaxResults
	}
	res, err := svc.Suggest(ctx, planner.SuggestRequest{
		Day:                day,
		Modality:           model.Modality(suggestOpts.modality),
		Duration:           suggestOpts.duration,
		MaxResults:         maxResults,
		ExcludeOperationID: suggestOpts.exclude,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if suggestOpts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Slots)
	}
	if len(res.Slots) == 0 {
		fmt.Fprintln(out, "no free slots")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRESOURCE")
	for _, s := range res.Slots {
		fmt.Fprintf(tw, "%s\t%s\n", s.Time.In(cfg.Terminal.Loc()).Format("Mon 02 Jan 2006 15:04"), s.Resource)
	}
	return tw.Flush()
}
