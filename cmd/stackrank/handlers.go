package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stackway/stackrank/internal/config"
	"github.com/stackway/stackrank/internal/logging"
	"github.com/stackway/stackrank/internal/scheduler"
	"github.com/stackway/stackrank/internal/store"
	"github.com/stackway/stackrank/pkg/feed"
	"github.com/stackway/stackrank/pkg/ranking"
	"github.com/stackway/stackrank/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

type app struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	logger *log.Logger
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{cfg: cfg, db: db, logger: logging.New(cfg.Log.Level)}, nil
}

func (a *app) close() {
	a.db.Close()
}

func (a *app) buildWorker() *ranking.Worker {
	return ranking.NewWorker(a.db, a.db, a.cfg.Ranking.Profiles(), nil, a.cfg.Ranking.SnapshotLimit, a.logger)
}

func (a *app) buildMixer() *feed.Mixer {
	return feed.NewMixer(a.db, a.db, a.logger)
}

func (a *app) defaultMix() feed.Mix {
	mix, err := feed.ParseMix(a.cfg.Feed.DefaultMix)
	if err != nil {
		a.logger.Warn("invalid default mix in config, using built-in", "mix", a.cfg.Feed.DefaultMix)
		return feed.DefaultMix()
	}
	return mix
}

// cliItemType parses a --type flag for recompute, accepting the external
// stack alias. Empty means both types.
func cliItemType(s string) (ranking.ItemType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both", "all":
		return "", nil
	case "card", "cards":
		return ranking.TypeCard, nil
	case "collection", "collections", "stack", "stacks":
		return ranking.TypeCollection, nil
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

func runRecompute(itemType string, sinceDays int, dryRun, jsonOut bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	t, err := cliItemType(itemType)
	if err != nil {
		return err
	}

	scope := ranking.Scope{Type: t, DryRun: dryRun}
	if sinceDays > 0 {
		scope.ChangedSince = time.Now().UTC().AddDate(0, 0, -sinceDays)
	}

	res, err := a.buildWorker().Recompute(context.Background(), scope)
	if err != nil {
		return fmt.Errorf("recompute: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CARDS\tCOLLECTIONS\tNORMALIZED\tERRORS")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\n",
		res.CardsProcessed, res.CollectionsProcessed, res.Normalized, len(res.Errors))
	w.Flush()

	for _, e := range res.Errors {
		fmt.Fprintf(os.Stderr, "  %s/%s: %s\n", e.Type, e.ID, e.Err)
	}
	if dryRun {
		fmt.Fprintln(os.Stderr, "dry run, nothing persisted")
	}
	return nil
}

func runFeed(itemType, mix string, limit, offset int, jsonOut bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	typeFilter, err := feed.ParseTypeFilter(itemType)
	if err != nil {
		return err
	}

	reqMix := a.defaultMix()
	if mix != "" {
		reqMix, err = feed.ParseMix(mix)
		if err != nil {
			return err
		}
	}
	if limit <= 0 {
		limit = a.cfg.Feed.DefaultLimit
	}

	page, err := a.buildMixer().Feed(context.Background(), feed.Request{
		Type:   typeFilter,
		Mix:    reqMix,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return fmt.Errorf("assemble feed: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	if len(page.Feed) == 0 {
		fmt.Println("feed is empty (no public content yet)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTYPE\tTITLE\tSAVES")
	for _, it := range page.Feed {
		switch it.Type {
		case ranking.TypeCard:
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%d\n", it.Score, it.Type, it.Card.Title, len(it.Attributions))
		case ranking.TypeCollection:
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%d\n", it.Score, it.Type, it.Collection.Title, it.Collection.Saves)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d items\n", len(page.Feed), page.Total)
	return nil
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(a.buildMixer(), a.buildWorker(), a.db,
		a.defaultMix(), a.cfg.Feed.DefaultLimit, port, a.logger)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker := a.buildWorker()
	sched := scheduler.New(worker, a.cfg.Schedule.ParseRecomputeInterval(), a.logger)

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("scheduler error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down")
	}()

	srv := server.New(a.buildMixer(), worker, a.db,
		a.defaultMix(), a.cfg.Feed.DefaultLimit, port, a.logger)
	return srv.ListenAndServe()
}
