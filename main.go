package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/shazow/wifimgr/internal/config"
	"github.com/shazow/wifimgr/internal/history"
	wifilog "github.com/shazow/wifimgr/internal/log"
)

var (
	// Version is the version of the application. It is set at build time.
	Version string = "dev"
)

// main is the entry point of the application
func main() {
	var (
		rootFlagSet = flag.NewFlagSet("wifimgr", flag.ExitOnError)
		iface       = rootFlagSet.String("interface", "", "wireless interface to manage (env: WIFIMGR_INTERFACE)")
		configPath  = rootFlagSet.String("config", "", "path to config toml file (env: WIFIMGR_CONFIG)")
		timeout     = rootFlagSet.String("timeout", "", "connect timeout, e.g. 90s (env: WIFIMGR_TIMEOUT)")
		historyDB   = rootFlagSet.String("history-db", "", "sqlite file for the connection journal (env: WIFIMGR_HISTORY_DB)")
		metricsAddr = rootFlagSet.String("metrics-addr", "", "serve prometheus metrics on this address during watch")
		verbose     = rootFlagSet.Bool("verbose", false, "enable debug logging")
		logFile     = rootFlagSet.String("log-file", "", "write logs to this file instead of stderr")
		version     = rootFlagSet.Bool("version", false, "display version")
	)

	var (
		cfg    config.Config
		logger *slog.Logger
	)

	// withApp starts the subsystem for the duration of fn.
	withApp := func(fn func(a *app) error) error {
		platform, err := GetPlatform(logger)
		if err != nil {
			return err
		}
		a, err := newApp(platform, cfg, logger)
		if err != nil {
			platform.Close()
			return err
		}
		defer a.Close()
		return fn(a)
	}

	requireArg := func(cmd string, args []string) (string, error) {
		if len(args) == 0 {
			return "", fmt.Errorf("%s requires an ssid", cmd)
		}
		return args[0], nil
	}

	listFlagSet := flag.NewFlagSet("list", flag.ExitOnError)
	listJSON := listFlagSet.Bool("json", false, "output in JSON format")
	listCmd := &ffcli.Command{
		Name:      "list",
		ShortHelp: "List visible wifi networks",
		FlagSet:   listFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			return withApp(func(a *app) error {
				return runList(os.Stdout, *listJSON, a)
			})
		},
	}

	showFlagSet := flag.NewFlagSet("show", flag.ExitOnError)
	showJSON := showFlagSet.Bool("json", false, "output in JSON format")
	showCmd := &ffcli.Command{
		Name:       "show",
		ShortUsage: "wifimgr show [-json] <ssid>",
		ShortHelp:  "Show a wifi network",
		FlagSet:    showFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			ssid, err := requireArg("show", args)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				return runShow(os.Stdout, *showJSON, ssid, a)
			})
		},
	}

	connectFlagSet := flag.NewFlagSet("connect", flag.ExitOnError)
	connectPassphrase := connectFlagSet.String("passphrase", "", "passphrase for the network")
	connectWait := connectFlagSet.Bool("wait", true, "wait for the connection to finish")
	connectCmd := &ffcli.Command{
		Name:       "connect",
		ShortUsage: "wifimgr connect [-passphrase p] [-wait] <ssid>",
		ShortHelp:  "Connect to a wifi network",
		FlagSet:    connectFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			ssid, err := requireArg("connect", args)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				return runConnect(ctx, os.Stdout, ssid, *connectPassphrase, *connectWait, a)
			})
		},
	}

	disconnectCmd := &ffcli.Command{
		Name:      "disconnect",
		ShortHelp: "Disconnect the wireless device",
		Exec: func(ctx context.Context, args []string) error {
			return withApp(func(a *app) error {
				return runDisconnect(os.Stdout, a)
			})
		},
	}

	rescanCmd := &ffcli.Command{
		Name:      "rescan",
		ShortHelp: "Request a wifi scan",
		Exec: func(ctx context.Context, args []string) error {
			return withApp(func(a *app) error {
				return runRescan(os.Stdout, a)
			})
		},
	}

	radioCmd := &ffcli.Command{
		Name:       "radio",
		ShortUsage: "wifimgr radio [on|off]",
		ShortHelp:  "Show or switch the wireless radio",
		Exec: func(ctx context.Context, args []string) error {
			var arg string
			if len(args) > 0 {
				arg = args[0]
			}
			return withApp(func(a *app) error {
				return runRadio(os.Stdout, arg, a)
			})
		},
	}

	forgetCmd := &ffcli.Command{
		Name:       "forget",
		ShortUsage: "wifimgr forget <ssid>",
		ShortHelp:  "Delete the saved profiles of a network",
		Exec: func(ctx context.Context, args []string) error {
			ssid, err := requireArg("forget", args)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				return runForget(os.Stdout, ssid, a)
			})
		},
	}

	shareCmd := &ffcli.Command{
		Name:       "share",
		ShortUsage: "wifimgr share <ssid>",
		ShortHelp:  "Print a QR code for joining a network",
		Exec: func(ctx context.Context, args []string) error {
			ssid, err := requireArg("share", args)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				return runShare(os.Stdout, ssid, a)
			})
		},
	}

	watchFlagSet := flag.NewFlagSet("watch", flag.ExitOnError)
	watchScan := watchFlagSet.String("scan", "off", "rescan interval: off, fast, slow or a duration")
	watchCmd := &ffcli.Command{
		Name:      "watch",
		ShortHelp: "Print network and connection events until interrupted",
		FlagSet:   watchFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			interval, err := ParseScanInterval(*watchScan)
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				return runWatch(ctx, os.Stdout, interval, a)
			})
		},
	}

	historyFlagSet := flag.NewFlagSet("history", flag.ExitOnError)
	historyN := historyFlagSet.Int("n", 20, "number of events to print, 0 for all")
	historyCmd := &ffcli.Command{
		Name:       "history",
		ShortUsage: "wifimgr history [-n N] [ssid]",
		ShortHelp:  "Print journaled connection events",
		FlagSet:    historyFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			if cfg.HistoryDB == "" {
				return errors.New("history requires -history-db or history_db in the config file")
			}
			j, err := history.Open(cfg.HistoryDB, logger)
			if err != nil {
				return err
			}
			defer j.Close()
			var ssid string
			if len(args) > 0 {
				ssid = args[0]
			}
			return runHistory(os.Stdout, *historyN, ssid, j)
		},
	}

	root := &ffcli.Command{
		ShortUsage: "wifimgr [flags] <subcommand> [args...]",
		FlagSet:    rootFlagSet,
		Options:    []ff.Option{ff.WithEnvVarPrefix("WIFIMGR")},
		Subcommands: []*ffcli.Command{
			listCmd, showCmd, connectCmd, disconnectCmd, rescanCmd,
			radioCmd, forgetCmd, shareCmd, watchCmd, historyCmd,
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if *version {
		fmt.Println(Version)
		os.Exit(0)
	}

	var logOut io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger = wifilog.Init(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	var err error
	cfg, err = config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Merge(config.Config{
		Interface:      *iface,
		ConnectTimeout: *timeout,
		HistoryDB:      *historyDB,
		MetricsAddr:    *metricsAddr,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	CurrentTheme = CurrentTheme.ApplyConfig(cfg.Theme)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = root.Run(ctx)
	stop()
	if errors.Is(err, flag.ErrHelp) {
		root.FlagSet.Usage()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
