package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"

	"finstat/internal/config"
	"finstat/internal/logging"
	"finstat/internal/store"
)

// command is one subcommand. args excludes the command name.
type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"init-db":         cmdInitDB,
	"import":          cmdImport,
	"calc-indicators": cmdCalcIndicators,
	"classify":        cmdClassify,
	"llm-analyze":     cmdLLMAnalyze,
	"report":          cmdReport,
	"run":             cmdRun,
	"serve":           cmdServe,
	"view":            cmdView,
}

// app carries what every command needs.
type app struct {
	cfg *config.Config
	st  store.Store
	out io.Writer
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		usage(os.Stdout)
		return
	}
	if _, ok := commands[name]; !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(os.Stderr)
		os.Exit(2)
	}

	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, name, os.Args[2:], os.Stdout)
	cancel()
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("command", name).Msg("command failed")
		os.Exit(1)
	}
}

// run validates cfg, opens the store and dispatches to the named command.
func run(ctx context.Context, cfg *config.Config, name string, args []string, out io.Writer) error {
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return cmd(ctx, &app{cfg: cfg, st: st, out: out}, args)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return store.OpenPostgres(ctx, cfg.Database.PostgresDSN)
	case "sqlite":
		return store.OpenSQLite(cfg.Database.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: finstat <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  init-db          create or migrate the database")
	fmt.Fprintln(w, "  import           load new CSV files from the input directory")
	fmt.Fprintln(w, "  calc-indicators  compute indicators and their PCT_M1/PCT_M6 changes")
	fmt.Fprintln(w, "  classify         apply rule sets (-period YYYY-MM)")
	fmt.Fprintln(w, "  llm-analyze      model-assisted classification (-period YYYY-MM)")
	fmt.Fprintln(w, "  report           write an xlsx report (-period YYYY-MM -out path)")
	fmt.Fprintln(w, "  run              full pipeline (-ai -report -skip-import)")
	fmt.Fprintln(w, "  serve            cron schedule plus Telegram commands")
	fmt.Fprintln(w, "  view <what>      summary|banks|forms|periods|log|raw|indicators")
	fmt.Fprintln(w, "                   (-bank -form -period -limit)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "CONFIG_PATH selects the config file (default: configs/config.yaml).")
}
