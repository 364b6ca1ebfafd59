package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"bincal/internal/config"
	"bincal/internal/coordinator"
	appLog "bincal/internal/log"
	"bincal/internal/metrics"
	"bincal/internal/model"
	"bincal/internal/schedule"
	"bincal/internal/scheduler"
	"bincal/internal/web"
)

var version = "0.1.0-dev"

// cli holds the command-line flags. Flags left empty keep the config file's value.
type cli struct {
	Config   string           `short:"c" help:"Path to config file." default:"/etc/bincal/config.yaml"`
	Listen   string           `help:"HTTP listen address (overrides config if set)."`
	LogLevel string           `name:"log-level" help:"One of debug, info, warn, error (overrides config if set)."`
	Once     bool             `help:"Refresh every household once, print the next collections and exit."`
	Version  kong.VersionFlag `help:"Show version and exit."`
}

func main() {
	var flags cli
	kong.Parse(&flags,
		kong.Name("bincal"),
		kong.Description("Polls council bin collection dates and serves them as calendars."),
		kong.Vars{"version": version},
	)

	if err := run(flags); err != nil {
		appLog.Error("bincal exiting with error", err)
		os.Exit(1)
	}
}

func run(flags cli) error {
	conf, err := config.Load(flags.Config)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.Config, err)
	}
	if flags.Listen != "" {
		conf.Listen = flags.Listen
	}
	if flags.LogLevel != "" {
		conf.LogLevel = flags.LogLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	schedule.UserAgent = "bincal/" + version

	appLog.Info("bincal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"endpoint", conf.Endpoint,
		"fetch_timeout", conf.FetchTimeout().String(),
		"households", len(conf.Households),
		"once", flags.Once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(reg)

	coords, err := buildCoordinators(conf, recorder)
	if err != nil {
		return err
	}

	driver := scheduler.New(ctx)
	for i, c := range coords {
		if _, err := driver.Add(c, conf.Households[i].Refresh); err != nil {
			return err
		}
	}

	if flags.Once {
		refreshErr := driver.RefreshAll(ctx)
		printNext(os.Stdout, conf, coords)
		return refreshErr
	}

	srv := web.NewServer(conf, coords, metrics.HTTPHandler(reg))
	defer srv.Close()

	// Prime every household without holding up the listener.
	go func() {
		if err := driver.RefreshAll(ctx); err != nil {
			appLog.Warn("initial refresh incomplete", "err", err)
		}
	}()

	driver.Start()
	defer driver.Stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	appLog.Info("bincal exiting")
	return nil
}

// buildCoordinators creates one coordinator per configured household, in
// config order, sharing a single fetcher.
func buildCoordinators(conf *config.Config, recorder metrics.Recorder) ([]*coordinator.Coordinator, error) {
	fetcher := schedule.NewFetcher(conf.Endpoint, conf.FetchTimeout())
	loc := conf.Location()

	coords := make([]*coordinator.Coordinator, 0, len(conf.Households))
	for _, h := range conf.Households {
		c, err := coordinator.New(coordinator.Options{
			Household: model.HouseholdID(h.ID),
			Address:   h.Name,
			Interval:  h.Interval(),
			Location:  loc,
			Fetcher:   fetcher,
			Recorder:  recorder,
		})
		if err != nil {
			return nil, fmt.Errorf("household %s: %w", h.ID, err)
		}
		coords = append(coords, c)
	}
	return coords, nil
}

// printNext writes one line per configured bin with its next collection date.
func printNext(w io.Writer, conf *config.Config, coords []*coordinator.Coordinator) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "FEED\tNEXT\tSTATUS")
	for _, c := range coords {
		hc, _ := conf.Household(string(c.Household()))
		st := c.Status().State.String()
		for _, cat := range hc.Categories() {
			sub := c.Subscribe(cat, nil)
			next := "-"
			if ev, ok := sub.NextEvent(); ok {
				next = ev.Start.Format(time.DateOnly)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", sub.Name(), next, st)
			sub.Close()
		}
	}
}
