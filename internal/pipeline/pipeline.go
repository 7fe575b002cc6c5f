// Package pipeline runs one full harvest: list event links, fetch every
// event page, repair and build entries, then write one calendar per
// configured partition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nsocal/internal/audience"
	"nsocal/internal/config"
	"nsocal/internal/fetch"
	"nsocal/internal/ics"
	appLog "nsocal/internal/log"
	"nsocal/internal/model"
	"nsocal/internal/output"
)

// Source lists events and opens page sessions. *capture.Browser is the
// production implementation.
type Source interface {
	ListEvents(ctx context.Context, url string) ([]model.EventLink, error)
	Open(ctx context.Context) (fetch.Session[model.EventLink, model.RawEvent], error)
}

// Deps are the collaborators of a run.
type Deps struct {
	Source Source
	// ToText converts upstream HTML descriptions to plain text.
	ToText ics.TextConverter
	Writer *output.Writer
}

// Drop records an event that was left out and why.
type Drop struct {
	Link    string `json:"link"`
	Stage   string `json:"stage"`
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason"`
}

// FileReport describes one written calendar.
type FileReport struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Path   string `json:"path"`
	Events int    `json:"events"`
}

// Report summarizes a run.
type Report struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Links      int            `json:"links"`
	Fetched    int            `json:"fetched"`
	Entries    int            `json:"entries"`
	Outcomes   map[string]int `json:"outcomes"`
	Drops      []Drop         `json:"drops,omitempty"`
	Files      []FileReport   `json:"files"`
}

// Run performs one harvest. Failures of individual events are recorded in
// the Report; the returned error is reserved for run-wide failures: the
// listing could not be loaded, every page fetch failed, or a calendar file
// could not be written.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Report, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is nil")
	}
	if deps.Source == nil || deps.Writer == nil {
		return nil, errors.New("pipeline: source and writer are required")
	}

	report := &Report{StartedAt: time.Now().UTC(), Outcomes: make(map[string]int)}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("pipeline: timezone: %w", err)
	}
	partitions, err := resolvePartitions(cfg.Partitions)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	links, err := deps.Source.ListEvents(ctx, cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list events: %w", err)
	}
	report.Links = len(links)
	appLog.Info("event links collected", "url", cfg.SourceURL, "count", len(links))

	var raws []model.RawEvent
	if len(links) > 0 {
		fetched, err := fetch.Run(ctx, links, deps.Source.Open, fetch.Options[model.EventLink]{
			Workers:   cfg.Workers,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.FetchTimeout,
			Retries:   cfg.Retries,
			Label:     labelLink,
		})
		for _, f := range fetched.Failures {
			report.Drops = append(report.Drops, Drop{Link: f.Item.Link, Stage: "fetch", Reason: f.Err.Error()})
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: fetch events: %w", err)
		}
		raws = fetched.Results
	}
	report.Fetched = len(raws)

	repairer, err := ics.NewRepairer(loc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	entries, drops := Process(raws, repairer, ics.NewBuilder(deps.ToText), report.Outcomes)
	report.Drops = append(report.Drops, drops...)
	report.Entries = len(entries)

	for _, p := range partitions {
		agg := ics.Partition(p.cfg.Name, cfg.ProductID, entries, p.audiences)
		path, err := deps.Writer.Write(p.cfg.File, agg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: write %s: %w", p.cfg.File, err)
		}
		appLog.Info("calendar written", "file", p.cfg.File, "path", path, "events", agg.Len())
		report.Files = append(report.Files, FileReport{Name: p.cfg.Name, File: p.cfg.File, Path: path, Events: agg.Len()})
	}

	report.FinishedAt = time.Now().UTC()
	appLog.Info("run completed",
		"links", report.Links,
		"fetched", report.Fetched,
		"entries", report.Entries,
		"dropped", len(report.Drops),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

// Process repairs and builds every raw event in order. Dropped events are
// returned as Drops and counted in outcomes by outcome name.
func Process(raws []model.RawEvent, r *ics.Repairer, b *ics.Builder, outcomes map[string]int) ([]model.Entry, []Drop) {
	entries := make([]model.Entry, 0, len(raws))
	var drops []Drop
	for _, raw := range raws {
		res := r.Repair(raw)
		if outcomes != nil {
			outcomes[res.Outcome.String()]++
		}
		if res.Outcome.Dropped() {
			drops = append(drops, Drop{Link: raw.Link, Stage: "repair", Outcome: res.Outcome.String(), Reason: res.Reason})
			continue
		}
		entry, err := b.Build(raw, res)
		if err != nil {
			appLog.Error("entry build failed", err, "link", raw.Link)
			drops = append(drops, Drop{Link: raw.Link, Stage: "build", Reason: err.Error()})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, drops
}

type partition struct {
	cfg       config.PartitionConfig
	audiences audience.Set
}

func resolvePartitions(cfgs []config.PartitionConfig) ([]partition, error) {
	out := make([]partition, 0, len(cfgs))
	for _, c := range cfgs {
		set, err := c.AudienceSet()
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", c.File, err)
		}
		out = append(out, partition{cfg: c, audiences: set})
	}
	return out, nil
}

func labelLink(l model.EventLink) string {
	return l.Link
}
