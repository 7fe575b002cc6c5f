package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsocal/internal/config"
	"nsocal/internal/pipeline"
	"nsocal/internal/web"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["serve"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("output-dir"))
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	applyOverrides(cfg, &cliFlags{outputDir: "/srv/ics", listen: ":9000", logLevel: "debug"})
	assert.Equal(t, "/srv/ics", cfg.OutputDir)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Empty(t, cfg.ChromePath)

	applyOverrides(cfg, &cliFlags{})
	assert.Equal(t, "/srv/ics", cfg.OutputDir)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	f := &cliFlags{
		configPath: filepath.Join(dir, "nsocal.yaml"),
		outputDir:  filepath.Join(dir, "out"),
	}

	var got *config.Config
	fake := func(_ context.Context, cfg *config.Config, _ *cliFlags) (*pipeline.Report, error) {
		got = cfg
		return &pipeline.Report{Files: []pipeline.FileReport{
			{File: config.GeneralCalendarFile, Path: filepath.Join(cfg.OutputDir, config.GeneralCalendarFile), Events: 7},
		}}, nil
	}

	cmd := newRunCmd(f, fake)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.Equal(t, f.outputDir, got.OutputDir)
	assert.Contains(t, out.String(), "general_calendar.ics\t7 events")
}

func TestRunCommand_PropagatesFailure(t *testing.T) {
	f := &cliFlags{configPath: filepath.Join(t.TempDir(), "nsocal.yaml")}
	fake := func(context.Context, *config.Config, *cliFlags) (*pipeline.Report, error) {
		return nil, errors.New("list events: navigation timeout")
	}
	cmd := newRunCmd(f, fake)
	cmd.SetArgs([]string{})
	assert.ErrorContains(t, cmd.Execute(), "navigation timeout")
}

func TestNewScheduler(t *testing.T) {
	cfg := config.DefaultConfig()
	c, err := newScheduler(cfg, func() {})
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)

	cfg.Refresh = "every now and then"
	_, err = newScheduler(cfg, func() {})
	assert.Error(t, err)
}

func TestRefreshJob_SkipsOverlap(t *testing.T) {
	cfg := config.DefaultConfig()
	srv := web.NewServer(cfg)

	var calls atomic.Int32
	release := make(chan struct{})
	fake := func(context.Context, *config.Config, *cliFlags) (*pipeline.Report, error) {
		calls.Add(1)
		<-release
		return &pipeline.Report{}, nil
	}
	job := newRefreshJob(context.Background(), cfg, &cliFlags{}, fake, srv)

	done := make(chan struct{})
	go func() {
		job()
		close(done)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	job() // returns immediately while the first run holds the lock
	close(release)
	<-done
	assert.Equal(t, int32(1), calls.Load())

	job()
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshJob_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	fake := func(context.Context, *config.Config, *cliFlags) (*pipeline.Report, error) {
		calls.Add(1)
		return nil, nil
	}
	newRefreshJob(ctx, config.DefaultConfig(), &cliFlags{}, fake, web.NewServer(config.DefaultConfig()))()
	assert.Zero(t, calls.Load())
}

func TestRunServe_WaitsForStartupRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sched, err := newScheduler(config.DefaultConfig(), func() {})
	require.NoError(t, err)

	started := make(chan struct{})
	var finished atomic.Bool
	job := func() {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}
	serve := func(context.Context) error {
		<-started
		return errors.New("listen tcp 127.0.0.1:8080: address already in use")
	}

	err = runServe(ctx, cancel, sched, job, serve)
	assert.ErrorContains(t, err, "address already in use")
	assert.True(t, finished.Load())
	assert.Error(t, ctx.Err())
}
