package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"snsgrab/pkg/auth"
	"snsgrab/pkg/daterange"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/harvest"
	"snsgrab/pkg/instagram"
	"snsgrab/pkg/pipeline"
	"snsgrab/pkg/ratelimit"
	"snsgrab/pkg/retry"
	"snsgrab/pkg/ui"
)

// detailRequestsPerHour caps post detail requests against the web endpoint
const detailRequestsPerHour = 200

var instagramCmd = &cobra.Command{
	Use:   "instagram <real-name> <account>",
	Short: "Harvest an Instagram profile",
	Long: `Scroll an Instagram profile, resolve every post and download its media
to <output>/instagram/<real-name>/<kind>/<YYYY>/<MM>/.

With --until-date the pass stops after the first post older than that date.
Posts that could not be fetched or downloaded are saved in a snapshot for
instagram-resume.`,
	Example: `  snsgrab instagram "Jane Doe" janedoe
  snsgrab instagram "Jane Doe" janedoe --until-date 2021-01-01 --store mongo`,
	Args: cobra.ExactArgs(2),
	RunE: runInstagram,
}

var instagramResumeCmd = &cobra.Command{
	Use:   "instagram-resume <real-name> [snapshot]",
	Short: "Retry what an Instagram run could not finish",
	Long: `Load a snapshot, re-fetch at most --fetch-limit of its failed posts and
retry every failed download. The snapshot defaults to the newest one of the
subject; a file path is accepted as well.`,
	Example: `  snsgrab instagram-resume "Jane Doe"
  snsgrab instagram-resume "Jane Doe" --fetch-limit 50`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResume(cmd, args, instagram.Name)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <accounts.csv>",
	Short: "Harvest the Instagram profiles scheduled for the current half hour",
	Long: `Read rows of real_name,account_name,scrape_time and harvest the profiles
whose scrape_time is the current half-hour slot, one after the other.

scrape_time is an hour of the day on a half-hour grid: "13" is 13:00-13:29
and "13.5" is 13:30-13:59, in local time. Running the command from cron every
half hour spreads a long list over the day. --all ignores the schedule.`,
	Example: `  */30 * * * * snsgrab batch accounts.csv --until-date 2021-01-01
  snsgrab batch accounts.csv --all --subject-pause 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	for _, cmd := range []*cobra.Command{instagramCmd, batchCmd} {
		addBrowserFlags(cmd)
		addRunFlags(cmd)
		cmd.Flags().String("until-date", "", "stop at the first post older than this date (YYYY-MM-DD)")
	}
	batchCmd.Flags().Duration("subject-pause", time.Minute, "pause after every profile")
	batchCmd.Flags().Bool("all", false, "harvest every row regardless of scrape_time")

	addRunFlags(instagramResumeCmd)
	instagramResumeCmd.Flags().Duration("pause", 5*time.Second, "pause between post detail requests")
	instagramResumeCmd.Flags().Int("fetch-limit", 10, "failed posts to re-fetch")

	rootCmd.AddCommand(instagramCmd, instagramResumeCmd, batchCmd)
}

// instagramClient builds the detail client carrying creds, which may be nil
func (a *app) instagramClient(creds *auth.Session) *instagram.Client {
	client := instagram.NewClient(a.cfg.Download.Timeout, a.log)
	client.SetLimiter(ratelimit.NewSlidingWindow(detailRequestsPerHour, time.Hour))
	client.SetMaxAttempts(a.cfg.Download.MaxRetries + 1)
	if creds != nil {
		client.SetCookies(creds.HTTPCookies())
		if token := creds.Cookies["csrftoken"]; token != "" {
			client.SetHeader("X-CSRFToken", token)
		}
		if creds.UserAgent != "" {
			client.SetHeader("User-Agent", creds.UserAgent)
		}
	}
	return client
}

// instagramHarvester starts the browser and returns the profile harvester
func (a *app) instagramHarvester(ctx context.Context, account string, rep ui.Reporter) (*harvest.Harvester, *instagram.Platform, error) {
	creds, err := a.credentials(account)
	if err != nil {
		return nil, nil, err
	}
	sess, err := a.browser(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	platform := instagram.NewPlatform(a.instagramClient(creds), sess, a.log)
	return harvest.New(sess, platform, a.harvestOptions(rep)), platform, nil
}

func parseUntil(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := daterange.ParseDate(s)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.ErrorTypeInvalidInput, err, "invalid until date")
	}
	return t, nil
}

func profileSpec(subject, account string, until time.Time) pipeline.RunSpec {
	return pipeline.RunSpec{
		Platform: instagram.Name,
		Subject:  subject,
		Queries:  []harvest.Query{{Account: account}},
		Stop:     instagram.StopBefore(until),
	}
}

func runInstagram(cmd *cobra.Command, args []string) error {
	subject, account := strings.TrimSpace(args[0]), instagram.SanitizeUsername(args[1])
	untilFlag, _ := cmd.Flags().GetString("until-date")
	until, err := parseUntil(untilFlag)
	if err != nil {
		return err
	}
	if !instagram.IsValidUsername(account) {
		return errs.New(errs.ErrorTypeInvalidInput, "invalid instagram account "+args[1])
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cmd, instagram.Name)
	if err != nil {
		return err
	}
	defer a.Close()
	session, _ := cmd.Flags().GetString("account")

	_, err = runSubject(ctx, subject, func(rep ui.Reporter) (*pipeline.Orchestrator, error) {
		h, platform, err := a.instagramHarvester(ctx, session, rep)
		if err != nil {
			return nil, err
		}
		return a.orchestrator(h, platform, rep), nil
	}, profileSpec(subject, account, until))
	return err
}

// runResume resumes subject on platform from the named or newest snapshot
func runResume(cmd *cobra.Command, args []string, platform string) error {
	subject := strings.TrimSpace(args[0])

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cmd, platform)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := ""
	if len(args) > 1 {
		ref = args[1]
	} else {
		ref, err = a.store.Latest(ctx, platform, subject)
		if err != nil {
			return errs.Wrap(errs.ErrorTypeSnapshotLoad, err, "no snapshot to resume for "+subject)
		}
	}
	ui.PrintInfo("Snapshot", ref)
	account, _ := cmd.Flags().GetString("account")

	_, err = runSubject(ctx, subject, func(rep ui.Reporter) (*pipeline.Orchestrator, error) {
		resolver, err := a.resolver(ctx, account)
		if err != nil {
			return nil, err
		}
		return a.orchestrator(nil, resolver, rep), nil
	}, pipeline.RunSpec{Platform: platform, Subject: subject, ResumeFrom: ref})
	return err
}

// resolver returns the detail resolver of the app's platform
func (a *app) resolver(ctx context.Context, account string) (harvest.Resolver, error) {
	if a.platform == instagram.Name {
		creds, err := a.credentials(account)
		if err != nil {
			return nil, err
		}
		return instagram.NewPlatform(a.instagramClient(creds), nil, a.log), nil
	}
	return a.twitterPlatform(ctx, account)
}

// batchRow is one line of a batch file
type batchRow struct {
	RealName string
	Account  string
	// Slot is the half hour the row is scheduled for, "" when unscheduled
	Slot string
}

// currentSlot names the half hour t falls in: "13" before 13:30, "13.5" after
func currentSlot(t time.Time) string {
	if t.Minute() < 30 {
		return strconv.Itoa(t.Hour())
	}
	return strconv.Itoa(t.Hour()) + ".5"
}

// parseSlot canonicalizes a scrape_time cell, so "9.0" and "09" name slot "9"
func parseSlot(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v >= 24 || v*2 != float64(int(v*2)) {
		return "", fmt.Errorf("scrape_time %q is not an hour on the half-hour grid", s)
	}
	hour := int(v)
	if v > float64(hour) {
		return strconv.Itoa(hour) + ".5", nil
	}
	return strconv.Itoa(hour), nil
}

// dueRows keeps the rows scheduled for the slot of now
func dueRows(rows []batchRow, now time.Time) []batchRow {
	slot := currentSlot(now)
	var due []batchRow
	for _, row := range rows {
		if row.Slot == slot {
			due = append(due, row)
		}
	}
	return due
}

// readBatch parses real_name,account_name,scrape_time rows. A header row
// and blank scrape times are allowed.
func readBatch(r io.Reader) ([]batchRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeInvalidInput, err, "failed to read batch file")
	}

	var rows []batchRow
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "real_name") {
			continue
		}
		if len(rec) < 2 {
			return nil, errs.New(errs.ErrorTypeInvalidInput, fmt.Sprintf("line %d: expected real_name,account_name[,scrape_time]", i+1))
		}
		row := batchRow{
			RealName: strings.TrimSpace(rec[0]),
			Account:  instagram.SanitizeUsername(rec[1]),
		}
		if len(rec) > 2 {
			row.Slot, err = parseSlot(rec[2])
			if err != nil {
				return nil, errs.Wrap(errs.ErrorTypeInvalidInput, err, fmt.Sprintf("line %d", i+1))
			}
		}
		if row.RealName == "" || !instagram.IsValidUsername(row.Account) {
			return nil, errs.New(errs.ErrorTypeInvalidInput, fmt.Sprintf("line %d: invalid row", i+1))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	untilFlag, _ := cmd.Flags().GetString("until-date")
	until, err := parseUntil(untilFlag)
	if err != nil {
		return err
	}
	pause, _ := cmd.Flags().GetDuration("subject-pause")
	all, _ := cmd.Flags().GetBool("all")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	rows, err := readBatch(f)
	f.Close()
	if err != nil {
		return err
	}
	if !all {
		now := clock()
		rows = dueRows(rows, now)
		if len(rows) == 0 {
			ui.PrintInfo("Batch", "no profile scheduled for slot "+currentSlot(now))
			return nil
		}
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openApp(ctx, cmd, instagram.Name)
	if err != nil {
		return err
	}
	defer a.Close()
	session, _ := cmd.Flags().GetString("account")

	var failed []string
	for i, row := range rows {
		if i > 0 {
			if err := retry.Wait(ctx, pause); err != nil {
				break
			}
		}
		ui.PrintHighlight(fmt.Sprintf("[%d/%d] %s (@%s)", i+1, len(rows), row.RealName, row.Account))
		_, err := runSubject(ctx, row.RealName, func(rep ui.Reporter) (*pipeline.Orchestrator, error) {
			h, platform, err := a.instagramHarvester(ctx, session, rep)
			if err != nil {
				return nil, err
			}
			return a.orchestrator(h, platform, rep), nil
		}, profileSpec(row.RealName, row.Account, until))
		if err != nil {
			a.log.WithError(err).WarnWithFields("Batch row failed", map[string]interface{}{"subject": row.RealName})
			failed = append(failed, row.RealName)
			if errs.IsFatal(errs.TypeOf(err)) {
				break
			}
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d subjects failed: %s", len(failed), len(rows), strings.Join(failed, ", "))
	}
	return nil
}
