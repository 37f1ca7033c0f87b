package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"signal_trader/internal/exchange"
	"signal_trader/internal/models"
	"signal_trader/internal/modules/binance_client"
	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/internal/modules/ledger"
	"signal_trader/internal/modules/okx_client"
	"signal_trader/internal/modules/parser"
	"signal_trader/internal/modules/storage"
	"signal_trader/pkg/logger"
)

const usage = `usage: ctl [flags] <command> [args]

commands:
  migrate                     apply ledger schema
  sync                        import exchange fills (--exchange, --force)
  parse <text>                run the default parser (or --template) on a message
  stats                       aggregate stats (--period, --channel)
  formats                     list channel formats
`

// nopPnL — в CLI дневной счётчик не живёт между запусками.
type nopPnL struct{}

func (nopPnL) RecordPnL(float64) {}

func main() {
	flags := pflag.NewFlagSet("ctl", pflag.ExitOnError)
	flags.String("config", "configs/values_local.yaml", "path to yaml config")
	flags.String("exchange", "", "sync: only this exchange (binance|okx)")
	flags.Bool("force", true, "sync: ignore cooldown")
	flags.String("template", "", "parse: channel template instead of the default pattern")
	flags.String("side", "LONG", "parse: default side for templates")
	flags.String("period", "lifetime", "stats: today|week|month|lifetime")
	flags.String("channel", "", "stats: channel filter")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("CTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		fail(err)
	}

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args[0] == "parse" {
		fail(runParse(v, args[1:]))
		return
	}

	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		fail(err)
	}
	if _, err = logger.Init(cfg.Log); err != nil {
		fail(err)
	}
	store, closeStore, err := storage.Open(ctx, cfg)
	if err != nil {
		fail(err)
	}
	defer func() { _ = closeStore() }()

	switch args[0] {
	case "migrate":
		fmt.Println("schema is up to date")
	case "sync":
		err = runSync(ctx, v, cfg, store)
	case "stats":
		err = runStats(ctx, v, store)
	case "formats":
		err = runFormats(ctx, store)
	default:
		flags.Usage()
		os.Exit(2)
	}
	fail(err)
}

func runSync(ctx context.Context, v *viper.Viper, cfg *config.Config, store *ledger.Store) error {
	reg := exchange.NewRegistry()
	binance_client.Register(cfg, reg)
	okx_client.Register(cfg, reg)
	if len(reg.All()) == 0 {
		return errors.New("no exchanges enabled in config")
	}
	s := exchange_sync.New(store, reg, nopPnL{}, exchange_sync.Config{
		Cooldown:        cfg.Sync.Cooldown,
		DefaultLookback: cfg.Sync.DefaultLookback,
	})
	n, err := s.Run(ctx, exchange_sync.Options{Exchange: v.GetString("exchange"), Force: v.GetBool("force")})
	fmt.Printf("inserted %d trades\n", n)
	return err
}

func runParse(v *viper.Viper, args []string) error {
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("parse: message text is required")
	}
	if tpl := v.GetString("template"); tpl != "" {
		side, _ := models.ParseSide(v.GetString("side"))
		return printJSON(parser.TestTemplate(tpl, text, side))
	}
	s, ok := parser.Parse(text)
	if !ok {
		return errors.New("no signal found")
	}
	if s.Entry > 0 {
		parser.FillDefaults(s)
	} else {
		s.MarketOrder = true
	}
	return printJSON(s)
}

func runStats(ctx context.Context, v *viper.Viper, store *ledger.Store) error {
	st, err := store.Stats(ctx, models.Period(v.GetString("period")), v.GetString("channel"))
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runFormats(ctx context.Context, store *ledger.Store) error {
	formats, err := store.ListChannelFormats(ctx)
	if err != nil {
		return err
	}
	return printJSON(formats)
}

func printJSON(v any) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	fmt.Println(string(out))
	return nil
}

func fail(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
