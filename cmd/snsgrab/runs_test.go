package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
	"snsgrab/pkg/checkpoint"
	"snsgrab/pkg/config"
	errs "snsgrab/pkg/errors"
	"snsgrab/pkg/logger"
	"snsgrab/pkg/models"
	"snsgrab/pkg/pipeline"
	"snsgrab/pkg/sink"
	"snsgrab/pkg/storage"
	"snsgrab/pkg/ui"
)

// subjectRun is one call of runSubject
type subjectRun struct {
	Subject string
	Spec    pipeline.RunSpec
	At      time.Time
}

// stubRuns swaps in an app on in-memory stores and records every subject
// run instead of starting a browser
func stubRuns(t *testing.T, now time.Time, fail map[string]error) *[]subjectRun {
	t.Helper()
	var runs []subjectRun

	prevOpen, prevRun, prevClock := openApp, runSubject, clock
	t.Cleanup(func() { openApp, runSubject, clock = prevOpen, prevRun, prevClock })

	openApp = func(ctx context.Context, cmd *cobra.Command, platform string) (*app, error) {
		bucket, err := blob.OpenBucket(ctx, "mem://")
		if err != nil {
			return nil, err
		}
		layout, err := storage.NewLayout(t.TempDir())
		if err != nil {
			return nil, err
		}
		return &app{
			cfg:      config.DefaultConfig(),
			log:      logger.NewTestLogger(),
			platform: platform,
			layout:   layout,
			store:    checkpoint.New(bucket, nil),
			sink:     sink.Nop{},
		}, nil
	}
	runSubject = func(ctx context.Context, subject string, build func(ui.Reporter) (*pipeline.Orchestrator, error), spec pipeline.RunSpec) (*pipeline.Summary, error) {
		runs = append(runs, subjectRun{Subject: subject, Spec: spec, At: time.Now()})
		return &pipeline.Summary{Subject: subject}, fail[subject]
	}
	clock = func() time.Time { return now }
	return &runs
}

func newInstagramCommand(t *testing.T, args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "instagram"}
	addBrowserFlags(cmd)
	addRunFlags(cmd)
	cmd.Flags().String("until-date", "", "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func newBatchCommand(t *testing.T, args ...string) *cobra.Command {
	cmd := newInstagramCommand(t)
	cmd.Use = "batch"
	cmd.Flags().Duration("subject-pause", time.Minute, "")
	cmd.Flags().Bool("all", false, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func writeBatch(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func queryAccounts(spec pipeline.RunSpec) []string {
	var out []string
	for _, q := range spec.Queries {
		out = append(out, q.Account)
	}
	return out
}

func TestRunInstagramKeepsProfileApartFromSession(t *testing.T) {
	runs := stubRuns(t, time.Now(), nil)
	cmd := newInstagramCommand(t, "--account", "my.login", "--until-date", "2021-01-01")

	require.NoError(t, runInstagram(cmd, []string{" Jane Doe ", "@janedoe"}))

	require.Len(t, *runs, 1)
	run := (*runs)[0]
	assert.Equal(t, "Jane Doe", run.Subject)
	assert.Equal(t, "instagram", run.Spec.Platform)
	assert.Equal(t, []string{"janedoe"}, queryAccounts(run.Spec))
	require.NotNil(t, run.Spec.Stop)
	assert.True(t, run.Spec.Stop(&models.Item{Timestamp: date("2020-12-31")}))
	assert.False(t, run.Spec.Stop(&models.Item{Timestamp: date("2021-01-02")}))
}

func TestRunInstagramRejectsBadInput(t *testing.T) {
	runs := stubRuns(t, time.Now(), nil)

	err := runInstagram(newInstagramCommand(t), []string{"Jane Doe", "jane-doe"})
	assert.True(t, errs.Is(err, errs.ErrorTypeInvalidInput))

	err = runInstagram(newInstagramCommand(t, "--until-date", "01/01/2021"), []string{"Jane Doe", "janedoe"})
	assert.True(t, errs.Is(err, errs.ErrorTypeInvalidInput))
	assert.Empty(t, *runs)
}

const batchFile = `real_name,account_name,scrape_time
Jane Doe,janedoe,13
John Roe,john.roe,13.5
Ann Poe,ann_poe,13
Bo Loe,bo.loe,
`

func TestRunBatchRunsTheCurrentSlot(t *testing.T) {
	runs := stubRuns(t, time.Date(2021, 5, 1, 13, 12, 0, 0, time.Local), nil)
	cmd := newBatchCommand(t, "--subject-pause", "0", "--until-date", "2021-01-01", "--account", "my.login")

	require.NoError(t, runBatch(cmd, []string{writeBatch(t, batchFile)}))

	require.Len(t, *runs, 2)
	assert.Equal(t, "Jane Doe", (*runs)[0].Subject)
	assert.Equal(t, []string{"janedoe"}, queryAccounts((*runs)[0].Spec))
	assert.Equal(t, "Ann Poe", (*runs)[1].Subject)
	assert.Equal(t, []string{"ann_poe"}, queryAccounts((*runs)[1].Spec))
	for _, run := range *runs {
		require.NotNil(t, run.Spec.Stop)
		assert.True(t, run.Spec.Stop(&models.Item{Timestamp: date("2020-06-01")}))
	}
}

func TestRunBatchNothingScheduled(t *testing.T) {
	runs := stubRuns(t, time.Date(2021, 5, 1, 8, 45, 0, 0, time.Local), nil)

	require.NoError(t, runBatch(newBatchCommand(t), []string{writeBatch(t, batchFile)}))
	assert.Empty(t, *runs)
}

func TestRunBatchAllIgnoresSchedule(t *testing.T) {
	runs := stubRuns(t, time.Date(2021, 5, 1, 8, 45, 0, 0, time.Local), nil)

	require.NoError(t, runBatch(newBatchCommand(t, "--all", "--subject-pause", "0"), []string{writeBatch(t, batchFile)}))

	var subjects []string
	for _, run := range *runs {
		subjects = append(subjects, run.Subject)
		assert.Nil(t, run.Spec.Stop)
	}
	assert.Equal(t, []string{"Jane Doe", "John Roe", "Ann Poe", "Bo Loe"}, subjects)
}

func TestRunBatchPausesBetweenSubjects(t *testing.T) {
	const pause = 40 * time.Millisecond
	runs := stubRuns(t, time.Date(2021, 5, 1, 13, 0, 0, 0, time.Local), nil)

	require.NoError(t, runBatch(newBatchCommand(t, "--subject-pause", pause.String()), []string{writeBatch(t, batchFile)}))

	require.Len(t, *runs, 2)
	assert.GreaterOrEqual(t, (*runs)[1].At.Sub((*runs)[0].At), pause)
}

func TestRunBatchReportsFailures(t *testing.T) {
	runs := stubRuns(t, time.Now(), map[string]error{
		"Jane Doe": errs.New(errs.ErrorTypeFetch, "profile unavailable"),
	})

	err := runBatch(newBatchCommand(t, "--all", "--subject-pause", "0"), []string{writeBatch(t, batchFile)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 4 subjects failed: Jane Doe")
	assert.Len(t, *runs, 4)
}

func TestRunBatchStopsOnFatalError(t *testing.T) {
	runs := stubRuns(t, time.Now(), map[string]error{
		"John Roe": errs.New(errs.ErrorTypeSnapshotWrite, "bucket gone"),
	})

	err := runBatch(newBatchCommand(t, "--all", "--subject-pause", "0"), []string{writeBatch(t, batchFile)})
	require.Error(t, err)
	assert.Len(t, *runs, 2)
}
