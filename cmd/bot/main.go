package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"unibot/internal/app"
	"unibot/internal/config"
	logx "unibot/pkg/logx"
)

var (
	cfgPath    string
	envFile    string
	timerLimit int
)

func main() {
	a := cli.App{
		Name:      "unibot",
		HelpName:  "unibot",
		Usage:     "community bot with durable reminders and student verification",
		UsageText: "unibot [--config path] <command>",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:        "config, c",
				Value:       "./config.yaml",
				Usage:       "path to the JSON or YAML config",
				EnvVar:      "UNIBOT_CONFIG",
				Destination: &cfgPath,
			},
			cli.StringFlag{
				Name:        "env-file",
				Value:       ".env",
				Usage:       "dotenv file with UNIBOT_* secrets (skipped when missing)",
				Destination: &envFile,
			},
		},
		Before: func(*cli.Context) error { return config.LoadDotEnv(envFile) },
		Action: run,
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "connect and serve until interrupted",
				Action: run,
			},
			{
				Name:   "check-config",
				Usage:  "validate the config and exit",
				Action: checkConfig,
			},
			{
				Name:   "timers",
				Usage:  "list persisted timers, soonest first",
				Action: listTimers,
				Flags: []cli.Flag{
					cli.IntFlag{
						Name:        "limit, n",
						Value:       20,
						Usage:       "maximum number of timers to show",
						Destination: &timerLimit,
					},
				},
			},
		},
	}
	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(*cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bot, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := bot.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = bot.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-bot.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := bot.Stop(stopCtx, reason); err != nil {
		return err
	}
	return bot.Err()
}

func checkConfig(*cli.Context) error {
	cfg, err := app.CheckConfig(context.Background(), cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config ok: transport=%s storage=%s verification=%t presence=%t\n",
		transportOr(cfg.Bot.Transport), driverOr(cfg.Storage.Driver), cfg.Verification.Enabled, cfg.Presence.Enabled)
	return nil
}

func listTimers(*cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recs, total, err := app.PendingTimers(ctx, cfgPath, timerLimit, logx.NewConsole("WARN"))
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no pending timers")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tOWNER\tEXPIRES\tIN")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Event, r.Owner, r.ExpiresAt.Format(time.RFC3339), humanize.Time(r.ExpiresAt))
	}
	_ = w.Flush()
	if total > int64(len(recs)) {
		fmt.Printf("showing %d of %s timers\n", len(recs), humanize.Comma(total))
	}
	return nil
}

func transportOr(s string) string {
	if s == "" {
		return "discord"
	}
	return s
}

func driverOr(s string) string {
	if s == "" {
		return "sqlite"
	}
	return s
}
