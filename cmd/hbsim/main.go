// Command hbsim runs the hash-based signature ledger experiment grid and
// prints a per-run summary table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/uhyunpark/hbsledger/params"
	"github.com/uhyunpark/hbsledger/pkg/api"
	"github.com/uhyunpark/hbsledger/pkg/experiment"
	"github.com/uhyunpark/hbsledger/pkg/metrics"
	"github.com/uhyunpark/hbsledger/pkg/storage"
	"github.com/uhyunpark/hbsledger/pkg/util"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: ./.env)")
	planPath := flag.String("plan", "", "YAML experiment plan overlaid on the environment")
	interactive := flag.Bool("interactive", false, "prompt for the experiment grid")
	flag.Parse()

	// Priority: prompts > plan > ENV > .env file > defaults
	cfg := params.LoadFromEnv(*envPath)
	if *planPath != "" {
		if err := params.LoadPlan(*planPath, &cfg); err != nil {
			log.Fatalf("plan: %v", err)
		}
	}
	if *interactive {
		prompt(&cfg.Experiment)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Output.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Output.LogFile, "verbose", cfg.Node.Verbose)

	e := cfg.Experiment
	prom := metrics.NewCollectors()
	runner := experiment.NewRunner(e)
	runner.StoreKind = cfg.Output.Store
	runner.Logger = sugar
	runner.Recorder = &metrics.Recorder{
		Sink:   metrics.NewCSVSink(cfg.Output.Dir),
		Prom:   prom,
		Logger: sugar,
	}

	if cfg.Output.WALFile != "" {
		wal, err := storage.NewFileWAL(cfg.Output.WALFile)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "path", cfg.Output.WALFile, "err", err)
		}
		defer wal.Close()
		runner.WAL = wal
	}

	if cfg.Node.APIAddr != "" {
		srv := api.NewServer(runner.Registry, prom, sugar)
		runner.OnBlock = srv.BroadcastBlock
		go func() {
			if err := srv.Start(cfg.Node.APIAddr); err != nil {
				sugar.Errorw("api_server_stopped", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("experiment_starting",
		"rounds", e.Rounds, "nodes", e.Nodes, "trials", e.Trials,
		"payloads", e.Payloads, "algs", e.Algs, "mode", e.Mode,
		"delay_min_ms", e.DelayMin.Milliseconds(), "delay_max_ms", e.DelayMax.Milliseconds(),
		"store", cfg.Output.Store, "output_dir", cfg.Output.Dir)

	results, err := runner.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		sugar.Warnw("experiment_interrupted", "completed_runs", len(results))
	case err != nil:
		sugar.Errorw("experiment_failed", "completed_runs", len(results), "err", err)
	}

	printResults(results)

	if cfg.Node.APIAddr != "" && ctx.Err() == nil {
		pterm.Info.Printfln("Serving results on %s, press Ctrl+C to exit", cfg.Node.APIAddr)
		<-ctx.Done()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func prompt(e *params.Experiment) {
	e.Rounds = promptInt("Rounds per run", e.Rounds)
	e.Nodes = promptInt("Nodes", e.Nodes)
	e.Trials = promptInt("Trials", e.Trials)

	payloads, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Payload sizes in bytes (comma separated)").
		WithDefaultValue(joinInts(e.Payloads)).
		Show()
	var ps []int
	for _, s := range strings.Split(payloads, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			ps = append(ps, n)
		}
	}
	if len(ps) > 0 {
		e.Payloads = ps
	}

	algs, _ := pterm.DefaultInteractiveMultiselect.
		WithDefaultText("Signature schemes").
		WithOptions([]string{"sphincs-sim", "xmss-sim", "lms-sim"}).
		WithDefaultOptions(e.Algs).
		Show()
	if len(algs) > 0 {
		e.Algs = algs
	}

	mode, _ := pterm.DefaultInteractiveSelect.
		WithDefaultText("Mode").
		WithOptions([]string{params.ModeRoundRobin, params.ModeSolo}).
		WithDefaultOption(e.Mode).
		Show()
	if mode != "" {
		e.Mode = mode
	}
	pterm.Println()
}

func promptInt(label string, def int) int {
	v, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(label).
		WithDefaultValue(strconv.Itoa(def)).
		Show()
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		pterm.Warning.Printfln("%q is not a number, keeping %d", v, def)
		return def
	}
	return n
}

func joinInts(xs []int) string {
	s := make([]string, len(xs))
	for i, x := range xs {
		s[i] = strconv.Itoa(x)
	}
	return strings.Join(s, ",")
}

func printResults(results []*experiment.Result) {
	if len(results) == 0 {
		pterm.Warning.Println("no runs completed")
		return
	}
	data := pterm.TableData{{
		"exp_tag", "run_id", "blocks", "tps", "p50_ms", "p95_ms", "valid",
		"tamper_rej", "replay_rej", "tamper_check", "replay_check",
	}}
	for _, r := range results {
		blocks := 0
		if r.Store != nil {
			blocks = r.Store.Len()
		}
		data = append(data, []string{
			r.ExpTag,
			r.RunID,
			strconv.Itoa(blocks),
			fmt.Sprintf("%.2f", r.Summary.TPS),
			fmt.Sprintf("%.4f", r.Summary.P50Ms),
			fmt.Sprintf("%.4f", r.Summary.P95Ms),
			fmt.Sprintf("%.2f", r.Summary.ValidRatio),
			fmt.Sprintf("%d/%d", r.Adversarial.TamperRejected, r.Adversarial.TamperTotal),
			fmt.Sprintf("%d/%d", r.Adversarial.ReplayRejected, r.Adversarial.ReplayTotal),
			checkMark(r.Checks.Ran, r.Checks.TamperPass),
			checkMark(r.Checks.Ran, r.Checks.ReplayPass),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func checkMark(ran, ok bool) string {
	switch {
	case !ran:
		return pterm.Gray("skipped")
	case ok:
		return pterm.LightGreen("PASS")
	default:
		return pterm.LightRed("FAIL")
	}
}
