package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ubec.eco/reciprocity/config"
	"ubec.eco/reciprocity/model"
	"ubec.eco/reciprocity/muxaddr"
	"ubec.eco/reciprocity/pipeline"
	"ubec.eco/reciprocity/quality"
	"ubec.eco/reciprocity/reconcile"
	"ubec.eco/reciprocity/verify"
	"ubec.eco/reciprocity/wallet"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "derive":
		return cmdDerive(args[1:], out, errOut)
	case "resolve":
		return cmdResolve(args[1:], out, errOut)
	case "score":
		return cmdScore(args[1:], out, errOut)
	case "process":
		return cmdProcess(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "reconcile":
		return cmdReconcile(args[1:], out, errOut)
	case "wallet":
		return cmdWallet(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "reciprocity: environmental observation ingestion and verification")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  reciprocity derive --base <G-address> --device <id>")
	fmt.Fprintln(w, "  reciprocity resolve --address <M-address>")
	fmt.Fprintln(w, "  reciprocity score --readings <json|@file> [--previous <json|@file>]")
	fmt.Fprintln(w, "  reciprocity process --device <id> --readings <json|@file> [--base <G-address>] [--config <path>]")
	fmt.Fprintln(w, "  reciprocity verify --observation <uuid> [--content-ref <cid>] [--ledger-ref <hash>] [--config <path>]")
	fmt.Fprintln(w, "  reciprocity reconcile [--limit <n>] [--config <path>]")
	fmt.Fprintln(w, "  reciprocity wallet init --name <name> --seed <S-seed> [--force]")
	fmt.Fprintln(w, "  reciprocity wallet list")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - --readings accepts inline JSON or @path to a JSON file")
	fmt.Fprintln(w, "  - without --config an in-memory evaluation setup is used")
	fmt.Fprintln(w, "  - wallet seeds are stored under ~/.reciprocity/wallet (0600 files)")
}

// readJSONArg parses inline JSON or, with an @ prefix, a JSON file.
func readJSONArg(arg string, v any) error {
	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return err
		}
		data = b
	}
	return json.Unmarshal(data, v)
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func logger(cfg config.Config, errOut io.Writer) zerolog.Logger {
	return zerolog.New(errOut).Level(cfg.Level()).With().Timestamp().Logger()
}

func cmdDerive(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	fs.SetOutput(errOut)
	base := fs.String("base", "", "base account address (G...)")
	device := fs.String("device", "", "device identifier")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *base == "" || *device == "" {
		fmt.Fprintln(errOut, "usage: reciprocity derive --base <G-address> --device <id>")
		return 2
	}
	muxed, err := muxaddr.Derive(*base, *device)
	if err != nil {
		fmt.Fprintf(errOut, "derive: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, muxed)
	return 0
}

func cmdResolve(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(errOut)
	address := fs.String("address", "", "muxed address (M...)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *address == "" {
		fmt.Fprintln(errOut, "usage: reciprocity resolve --address <M-address>")
		return 2
	}
	info := muxaddr.Inspect(*address)
	if code := printJSON(out, errOut, info); code != 0 {
		return code
	}
	if !info.Valid {
		return 1
	}
	return 0
}

func cmdScore(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(errOut)
	readingsArg := fs.String("readings", "", "readings as JSON or @file")
	previousArg := fs.String("previous", "", "previous readings as JSON or @file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *readingsArg == "" {
		fmt.Fprintln(errOut, "usage: reciprocity score --readings <json|@file> [--previous <json|@file>]")
		return 2
	}
	var readings, previous map[string]float64
	if err := readJSONArg(*readingsArg, &readings); err != nil {
		fmt.Fprintf(errOut, "parse readings: %v\n", err)
		return 1
	}
	if *previousArg != "" {
		if err := readJSONArg(*previousArg, &previous); err != nil {
			fmt.Fprintf(errOut, "parse previous: %v\n", err)
			return 1
		}
	}
	score := quality.Score(readings, previous)
	sensors := quality.CountNumericSensors(readings)
	reward := quality.ComputeReward(readings, score, nil)
	return printJSON(out, errOut, map[string]any{
		"quality_score":  score,
		"sensor_count":   sensors,
		"reward":         reward.String(),
		"daily_estimate": quality.DailyEstimate(sensors, score, 24).String(),
	})
}

func cmdProcess(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file path")
	device := fs.String("device", "", "device identifier")
	email := fs.String("email", "", "human observer email")
	base := fs.String("base", "", "observer base account address (G...)")
	readingsArg := fs.String("readings", "", "readings as JSON or @file")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (*device == "" && *email == "") || *readingsArg == "" {
		fmt.Fprintln(errOut, "usage: reciprocity process --device <id> --readings <json|@file> [--base <G-address>]")
		return 2
	}
	var readings map[string]float64
	if err := readJSONArg(*readingsArg, &readings); err != nil {
		fmt.Fprintf(errOut, "parse readings: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	ctx, cancel := signalContext()
	defer cancel()

	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer closeStore()
	cas, closeCAS, err := cfg.OpenContentStore()
	if err != nil {
		fmt.Fprintf(errOut, "open content store: %v\n", err)
		return 1
	}
	defer func() { _ = closeCAS() }()
	lg, err := cfg.OpenLedger()
	if err != nil {
		fmt.Fprintf(errOut, "open ledger: %v\n", err)
		return 1
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger(cfg, errOut))}
	if cfg.Pipeline.OutboundLimit > 0 {
		opts = append(opts, pipeline.WithOutboundLimit(cfg.Pipeline.OutboundLimit))
	}
	p := pipeline.New(st, cas, lg, opts...)

	sub := pipeline.Submission{
		DeviceID:    *device,
		Email:       *email,
		BaseAddress: *base,
		Readings:    readings,
	}
	var locationSet bool
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lon" {
			locationSet = true
		}
	})
	if locationSet {
		sub.Location = &model.Coordinates{Latitude: *lat, Longitude: *lon}
	}
	res, err := p.Process(ctx, sub)
	if err != nil {
		fmt.Fprintf(errOut, "process: %v\n", err)
		return 1
	}
	return printJSON(out, errOut, res)
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file path")
	observation := fs.String("observation", "", "observation UUID")
	contentRef := fs.String("content-ref", "", "content reference (CID)")
	ledgerRef := fs.String("ledger-ref", "", "ledger transaction hash")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *observation == "" {
		fmt.Fprintln(errOut, "usage: reciprocity verify --observation <uuid> [--content-ref <cid>] [--ledger-ref <hash>]")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	ctx, cancel := signalContext()
	defer cancel()

	cas, closeCAS, err := cfg.OpenContentStore()
	if err != nil {
		fmt.Fprintf(errOut, "open content store: %v\n", err)
		return 1
	}
	defer func() { _ = closeCAS() }()
	lg, err := cfg.OpenLedger()
	if err != nil {
		fmt.Fprintf(errOut, "open ledger: %v\n", err)
		return 1
	}

	target := verify.Target{ObservationID: *observation}
	if *contentRef != "" {
		target.ContentRef = contentRef
	}
	if *ledgerRef != "" {
		target.LedgerRef = ledgerRef
	}
	if target.ContentRef == nil || target.LedgerRef == nil {
		// Fall back to the recorded references when flags omit them.
		if id, parseErr := uuid.Parse(*observation); parseErr == nil {
			st, closeStore, storeErr := cfg.OpenStore(ctx)
			if storeErr == nil {
				if x, getErr := st.GetExchange(ctx, id); getErr == nil {
					if target.ContentRef == nil {
						target.ContentRef = x.ContentRef
					}
					if target.LedgerRef == nil {
						target.LedgerRef = x.LedgerRef
					}
				}
				closeStore()
			}
			if target.LedgerRef == nil && lg != nil {
				// Last resort: scan the distribution account for the memo.
				if tx, findErr := lg.FindByMemo(ctx, pipeline.Memo(id)); findErr == nil {
					target.LedgerRef = &tx.Ref
				}
			}
		}
	}

	v := verify.New(cas, lg, verify.WithLogger(logger(cfg, errOut)))
	res, err := v.Verify(ctx, target)
	if err != nil {
		fmt.Fprintf(errOut, "verify: %v\n", err)
		return 1
	}
	if code := printJSON(out, errOut, res); code != 0 {
		return code
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func cmdReconcile(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "config file path")
	limit := fs.Int("limit", 100, "maximum exchanges per pass")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	ctx, cancel := signalContext()
	defer cancel()

	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer closeStore()
	cas, closeCAS, err := cfg.OpenContentStore()
	if err != nil {
		fmt.Fprintf(errOut, "open content store: %v\n", err)
		return 1
	}
	defer func() { _ = closeCAS() }()
	lg, err := cfg.OpenLedger()
	if err != nil {
		fmt.Fprintf(errOut, "open ledger: %v\n", err)
		return 1
	}
	if lg == nil {
		fmt.Fprintln(errOut, "reconcile: no ledger configured, nothing to settle")
		return 2
	}

	r := reconcile.New(st, cas, lg, reconcile.WithLogger(logger(cfg, errOut)))
	report, err := r.Run(ctx, *limit)
	if err != nil {
		fmt.Fprintf(errOut, "reconcile: %v\n", err)
		return 1
	}
	return printJSON(out, errOut, report)
}

func cmdWallet(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: reciprocity wallet <init|list> ...")
		return 2
	}
	switch args[0] {
	case "init":
		fs := flag.NewFlagSet("wallet init", flag.ContinueOnError)
		fs.SetOutput(errOut)
		dir := fs.String("dir", "", "wallet directory (default ~/.reciprocity/wallet)")
		name := fs.String("name", "", "entry name")
		seed := fs.String("seed", "", "secret seed (S...)")
		force := fs.Bool("force", false, "overwrite an existing entry")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *name == "" || *seed == "" {
			fmt.Fprintln(errOut, "usage: reciprocity wallet init --name <name> --seed <S-seed> [--force]")
			return 2
		}
		w, err := wallet.Open(*dir)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		address, path, err := w.StoreSeed(*name, *seed, *force)
		if err != nil {
			fmt.Fprintf(errOut, "wallet init: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "%s\t%s\n", address, path)
		return 0
	case "list":
		fs := flag.NewFlagSet("wallet list", flag.ContinueOnError)
		fs.SetOutput(errOut)
		dir := fs.String("dir", "", "wallet directory (default ~/.reciprocity/wallet)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		w, err := wallet.Open(*dir)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
		entries, err := w.List()
		if err != nil {
			fmt.Fprintf(errOut, "wallet list: %v\n", err)
			return 1
		}
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "%s\t%s\n", name, entries[name])
		}
		return 0
	default:
		fmt.Fprintf(errOut, "unknown wallet subcommand: %s\n", args[0])
		return 2
	}
}

func printJSON(out io.Writer, errOut io.Writer, v any) int {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(errOut, "encode output: %v\n", err)
		return 1
	}
	return 0
}
