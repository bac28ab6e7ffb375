package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"snsgrab/pkg/daterange"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/models"
	"snsgrab/pkg/pipeline"
	"snsgrab/pkg/twitter"
	"snsgrab/pkg/ui"
)

var twitterCmd = &cobra.Command{
	Use:   "twitter <real-name> <image|video>",
	Short: "Harvest a Twitter search",
	Long: `Run a Twitter search for images or videos and download every match to
<output>/twitter/<real-name>/<kind>/<YYYY>/<MM>/.

With --since the date range is split at month boundaries and each chunk is
searched in turn, oldest first. --until is inclusive and defaults to today.`,
	Example: `  snsgrab twitter "Jane Doe" image --from janedoe
  snsgrab twitter cats video --hashtags cats,kittens --since 2021-01-01 --until 2021-03-31`,
	Args: cobra.ExactArgs(2),
	RunE: runTwitter,
}

var twitterResumeCmd = &cobra.Command{
	Use:   "twitter-resume <real-name> [snapshot]",
	Short: "Retry what a Twitter run could not finish",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResume(cmd, args, twitter.Name)
	},
}

func init() {
	addBrowserFlags(twitterCmd)
	addRunFlags(twitterCmd)
	f := twitterCmd.Flags()
	f.String("all-words", "", "all of these words")
	f.String("exact-words", "", "this exact phrase")
	f.StringSlice("include-words", nil, "any of these words")
	f.StringSlice("exclude-words", nil, "none of these words")
	f.StringSlice("hashtags", nil, "any of these hashtags")
	f.StringSlice("from", nil, "from any of these accounts")
	f.StringSlice("to", nil, "to any of these accounts")
	f.StringSlice("mentions", nil, "mentioning any of these accounts")
	f.String("since", "", "first day of the search (YYYY-MM-DD)")
	f.String("until", "", "last day of the search, inclusive (YYYY-MM-DD, default today)")

	addBrowserFlags(twitterResumeCmd)
	addRunFlags(twitterResumeCmd)
	twitterResumeCmd.Flags().Int("fetch-limit", 10, "failed tweets to re-fetch")

	rootCmd.AddCommand(twitterCmd, twitterResumeCmd)
}

// searchFromFlags reads the search filters of cmd
func searchFromFlags(cmd *cobra.Command) harvest.Search {
	f := cmd.Flags()
	str := func(name string) string { v, _ := f.GetString(name); return strings.TrimSpace(v) }
	list := func(name string) []string { v, _ := f.GetStringSlice(name); return v }
	return harvest.Search{
		AllWords:     str("all-words"),
		ExactWords:   str("exact-words"),
		IncludeWords: list("include-words"),
		ExcludeWords: list("exclude-words"),
		Hashtags:     list("hashtags"),
		From:         list("from"),
		To:           list("to"),
		Mentions:     list("mentions"),
	}
}

// searchQueries returns one query per date chunk, or a single query
// bounded by until when since is zero
func searchQueries(s harvest.Search, kind models.MediaKind, since, until time.Time) ([]harvest.Query, error) {
	if since.IsZero() {
		return []harvest.Query{{Search: s, Until: until, Media: kind}}, nil
	}
	ranges, err := daterange.Split(since, until)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInvalidInput, err, "invalid date range")
	}
	queries := make([]harvest.Query, 0, len(ranges))
	for _, r := range ranges {
		queries = append(queries, harvest.Query{Search: s, Since: r.Start, Until: r.End, Media: kind})
	}
	return queries, nil
}

func runTwitter(cmd *cobra.Command, args []string) error {
	subject := strings.TrimSpace(args[0])
	kind, err := models.ParseMediaKind(args[1])
	if err != nil {
		return errs.Wrap(errs.ErrorTypeInvalidInput, err, "media must be image or video")
	}

	sinceFlag, _ := cmd.Flags().GetString("since")
	untilFlag, _ := cmd.Flags().GetString("until")
	var since, until time.Time
	if sinceFlag != "" {
		if since, err = daterange.ParseDate(sinceFlag); err != nil {
			return errs.Wrap(errs.ErrorTypeInvalidInput, err, "invalid --since")
		}
	}
	until = daterange.Date(time.Now())
	if untilFlag != "" {
		if until, err = daterange.ParseDate(untilFlag); err != nil {
			return errs.Wrap(errs.ErrorTypeInvalidInput, err, "invalid --until")
		}
	}
	queries, err := searchQueries(searchFromFlags(cmd), kind, since, until)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cmd, twitter.Name)
	if err != nil {
		return err
	}
	defer a.Close()
	account, _ := cmd.Flags().GetString("account")

	_, err = runSubject(ctx, subject, func(rep ui.Reporter) (*pipeline.Orchestrator, error) {
		platform, err := a.twitterPlatform(ctx, account)
		if err != nil {
			return nil, err
		}
		return a.orchestrator(harvest.New(a.session, platform, a.harvestOptions(rep)), platform, rep), nil
	}, pipeline.RunSpec{Platform: twitter.Name, Subject: subject, Queries: queries})
	return err
}

// twitterPlatform starts the browser that renders both searches and tweets
func (a *app) twitterPlatform(ctx context.Context, account string) (*twitter.Platform, error) {
	creds, err := a.credentials(account)
	if err != nil {
		return nil, err
	}
	sess, err := a.browser(ctx, creds)
	if err != nil {
		return nil, err
	}
	return twitter.NewPlatform(sess, a.log), nil
}
