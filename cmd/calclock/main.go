package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"calclock/internal/capture"
	"calclock/internal/clock"
	"calclock/internal/config"
	"calclock/internal/ics"
	"calclock/internal/loader"
	appLog "calclock/internal/log"
	"calclock/internal/metrics"
	"calclock/internal/model"
	"calclock/internal/proxy"
	"calclock/internal/render"
	"calclock/internal/state"
	"calclock/internal/web"
)

const version = "0.1.0"

func main() {
	cmd := &cli.Command{
		Name:    "calclock",
		Usage:   "Analog clock face with today's calendar events as arcs",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the web server, calendar proxy and refresh scheduler",
				Flags:  append(commonFlags(), &cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"}),
				Action: runServe,
			},
			{
				Name:  "once",
				Usage: "Load a calendar once and print today's arcs",
				Flags: append(commonFlags(),
					&cli.StringFlag{Name: "proxy", Usage: "Fetch through a calclock proxy at this base URL instead of directly"},
					&cli.BoolFlag{Name: "json", Usage: "Print the frame as JSON"},
					&cli.StringFlag{Name: "svg", Usage: "Also write the rendered face to this SVG file"},
				),
				Action: runOnce,
			},
			{
				Name:  "snapshot",
				Usage: "Capture the clock page of a running server as PNG",
				Flags: append(commonFlags(),
					&cli.StringFlag{Name: "target", Value: "http://127.0.0.1:8080/", Usage: "Clock page URL"},
					&cli.StringFlag{Name: "out", Value: "clock.png", Usage: "PNG output path"},
					&cli.BoolFlag{Name: "face-only", Usage: "Capture the clock face without the legend"},
					&cli.IntFlag{Name: "width", Value: capture.DefaultWidth, Usage: "Viewport width in pixels"},
					&cli.IntFlag{Name: "height", Value: capture.DefaultHeight, Usage: "Viewport height in pixels"},
				),
				Action: runSnapshot,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		appLog.Error("calclock failed", err)
		os.Exit(1)
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to config file",
			Value:   "/etc/calclock/config.yaml",
			Sources: cli.EnvVars("CALCLOCK_CONFIG"),
		},
		&cli.StringFlag{Name: "url", Usage: "Calendar (ICS) URL (overrides config if set)"},
		&cli.BoolFlag{Name: "twelve", Usage: "Use the 12-hour face"},
	}
}

// setup loads the config, applies CLI overrides and configures logging.
func setup(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if v := cmd.String("url"); v != "" {
		cfg.CalendarURL = v
	}
	if cmd.IsSet("twelve") {
		cfg.TwelveHour = cmd.Bool("twelve")
	}

	if err := appLog.Configure(os.Stderr, cfg.LogFormat); err != nil {
		return nil, err
	}
	if err := appLog.SetLevelString(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	// CLI --listen overrides config file listen if provided.
	if v := cmd.String("listen"); v != "" {
		cfg.Listen = v
	}
	loc := cfg.Location()

	appLog.Info("calclock starting", "version", version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", loc.String(),
		"twelve_hour", cfg.TwelveHour,
		"refresh", cfg.RefreshCron,
		"calendar_configured", cfg.CalendarURL != "",
		"proxy_path", cfg.ProxyPath,
		"basic_auth", cfg.BasicAuth != nil,
	)

	m := metrics.NewManager()
	fetcher := ics.NewFetcher(cfg.CacheDir, ics.WithObserver(m.ObserveFetch))
	l := loader.New(fetcher.Fetch,
		loader.WithLocation(loc),
		loader.WithDropHook(m.ObserveDrop),
	)
	store := state.NewStore(model.State{
		TwelveHour: cfg.TwelveHour,
		SourceURL:  cfg.CalendarURL,
	}, l, state.WithRefreshHook(m.RecordRefresh))

	srv := web.NewServer(cfg, store, fetcher, m)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(gctx)
	})

	g.Go(func() error {
		_ = store.Refresh(gctx)
		if err := store.Start(gctx, cfg.RefreshCron, loc); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		<-gctx.Done()
		store.Stop()
		return nil
	})

	g.Go(func() error {
		return config.Watch(gctx, cmd.String("config"), func(next *config.Config) {
			if next.Timezone != cfg.Timezone || next.Listen != cfg.Listen || next.ProxyPath != cfg.ProxyPath {
				appLog.Warn("timezone, listen and proxy_path changes apply after restart")
			}
			srv.SetConfig(next)
			store.SetTwelveHour(next.TwelveHour)
			if next.CalendarURL != store.Snapshot().SourceURL {
				store.SetSource(next.CalendarURL)
				go func() { _ = store.Refresh(gctx) }()
			}
		})
	})

	if err := g.Wait(); err != nil {
		return err
	}
	appLog.Info("calclock exiting")
	return nil
}

func runOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}
	loc := cfg.Location()

	var fetch loader.FetchFunc
	if base := cmd.String("proxy"); base != "" {
		fetch = proxy.NewClient(base, cfg.ProxyPath, &http.Client{Timeout: 30 * time.Second}).Fetch
	} else {
		fetch = ics.NewFetcher(cfg.CacheDir).Fetch
	}

	events, err := loader.New(fetch, loader.WithLocation(loc)).Load(ctx, cfg.CalendarURL)
	switch {
	case errors.Is(err, ics.ErrStale):
		appLog.Warn("calendar unreachable, using cached copy", "error", err.Error())
	case err != nil && !errors.Is(err, loader.ErrNoSource):
		// Render the empty face anyway; the error is already the answer.
		appLog.Error("calendar load failed", err)
	}

	st := model.State{TwelveHour: cfg.TwelveHour, SourceURL: cfg.CalendarURL}.
		WithEvents(events, time.Now())
	frame := clock.Compose(st, time.Now().In(loc))

	if path := cmd.String("svg"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := render.SVG(f, frame, render.DefaultGeometry); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(frame)
	}
	return printFrame(os.Stdout, frame)
}

func printFrame(w io.Writer, frame clock.Frame) error {
	layout := "15:04"
	if frame.TwelveHour {
		layout = "3:04PM"
	}
	if _, err := fmt.Fprintf(w, "now %s  hand %.2f°  cycle %d min\n",
		frame.Now.Format(layout), frame.NowDeg, frame.Cycle); err != nil {
		return err
	}
	if len(frame.Legend) == 0 {
		_, err := fmt.Fprintln(w, "No events today.")
		return err
	}
	for _, e := range frame.Legend {
		if _, err := fmt.Fprintf(w, "%s–%s  %7.2f° → %7.2f°  %s\n",
			e.Start.Format(layout), e.End.Format(layout), e.Arc.StartDeg, e.Arc.EndDeg, e.Summary); err != nil {
			return err
		}
	}
	return nil
}

func runSnapshot(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	target, err := url.Parse(cmd.String("target"))
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	q := target.Query()
	if cmd.String("url") != "" {
		q.Set("url", cfg.CalendarURL)
	}
	if cmd.IsSet("twelve") {
		if cfg.TwelveHour {
			q.Set("twelve", "1")
		} else {
			q.Set("twelve", "0")
		}
	}
	target.RawQuery = q.Encode()

	opts := capture.Options{
		URL:        target.String(),
		OutputPath: cmd.String("out"),
		Width:      int(cmd.Int("width")),
		Height:     int(cmd.Int("height")),
	}
	if cmd.Bool("face-only") {
		opts.Selector = capture.FaceSelector
	}
	if err := capture.CaptureClockPNG(ctx, opts); err != nil {
		return err
	}
	appLog.Info("snapshot written", "path", opts.OutputPath, "face_only", opts.Selector != "")
	return nil
}
