package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"bizcal/internal/app"
	"bizcal/internal/calendar"
	"bizcal/internal/config"
	appLog "bizcal/internal/log"
	"bizcal/internal/model"
)

const version = "0.1.0"

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if l := cmd.String("listen"); l != "" {
		cfg.Listen = l
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("bizcal starting", "version", version, "listen", cfg.Listen)
	if err := app.Run(ctx, app.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

// windowFrom reads --from/--to, defaulting to the configured backfill and
// horizon around today.
func windowFrom(cmd *cli.Command, cfg *config.Config) (calendar.Window, error) {
	today := model.DateOf(time.Now())
	from := today.AddDate(0, 0, -cfg.BackfillDays)
	to := today.AddDate(0, 0, cfg.HorizonDays)
	if v := cmd.String("from"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("--from: %w", err)
		}
		from = d
	}
	if v := cmd.String("to"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			return calendar.Window{}, fmt.Errorf("--to: %w", err)
		}
		to = d
	}
	return calendar.DayWindow(from, to), nil
}

func expand(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w, err := windowFrom(cmd, cfg)
	if err != nil {
		return err
	}
	rt, err := app.Build(app.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer rt.Close()

	occ, err := rt.Service.Occurrences(ctx, w)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(occ)
}

func export(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	w, err := windowFrom(cmd, cfg)
	if err != nil {
		return err
	}
	rt, err := app.Build(app.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Feeds.Refresh(ctx); err != nil {
		appLog.Warn("some feeds failed, exporting what was fetched", "error", err.Error())
	}

	var out io.Writer = os.Stdout
	if path := cmd.String("out"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return rt.Service.ExportICS(ctx, out, w, calendar.Filter{}, cmd.String("name"))
}

func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "First day (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "to", Usage: "Last day (YYYY-MM-DD)"},
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "bizcal",
		Usage:   "Business calendar: recurring tasks, deals, projects, invoices and ICS feeds in one view",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config.yaml",
				Value:       "config.yaml",
				Sources:     cli.EnvVars("BIZCAL_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the feed refresher",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "Override the listen address"},
				},
			},
			{
				Name:   "expand",
				Usage:  "Print recurring task occurrences for a window as JSON",
				Action: expand,
				Flags:  windowFlags(),
			},
			{
				Name:   "export",
				Usage:  "Write the unified calendar as an iCalendar file",
				Action: export,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file, - for stdout", Value: "-"},
					&cli.StringFlag{Name: "name", Usage: "Calendar name", Value: "bizcal"},
				}, windowFlags()...),
			},
		},
		DefaultCommand: "serve",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		appLog.Error("bizcal failed", err)
		os.Exit(1)
	}
}
