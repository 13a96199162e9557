// Command lfgctl runs operator tasks against the configured database: cleanup runs,
// ledger inspection and retries, and one-off reconciliation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"lfgkeeper/internal/bootstrap"
	"lfgkeeper/internal/cleanup"
	"lfgkeeper/internal/config"
)

const usageText = `usage: lfgctl <command> [flags]

commands:
  cleanup   [-phases expire,archive,hard_delete] [-scope S] [-dry-run]
  ledger    status [-limit N] | retry [-batch N] | requeue <id> | purge
  reconcile <artifact-id>
  sweep     drop expired admission reservations`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usageText)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ApplySchema: false})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer func() { _ = rt.Close() }()

	if err := run(ctx, rt, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, rt *bootstrap.Runtime, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%s", usageText)
	}
	switch args[0] {
	case "cleanup":
		return runCleanup(ctx, rt, args[1:], out)
	case "ledger":
		return runLedger(ctx, rt, args[1:], out)
	case "reconcile":
		if len(args) != 2 {
			return fmt.Errorf("usage: lfgctl reconcile <artifact-id>")
		}
		outcome, err := rt.Reconcile.Reconcile(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, map[string]string{"artifact_id": args[1], "outcome": string(outcome)})
	case "sweep":
		n, err := rt.Admission.Sweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"swept": n})
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usageText)
	}
}

func runCleanup(ctx context.Context, rt *bootstrap.Runtime, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	phases := fs.String("phases", "", "Comma-separated phases (default all)")
	scope := fs.String("scope", "", "Restrict to one scope")
	dryRun := fs.Bool("dry-run", false, "Count candidates without changing anything")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := cleanup.Options{Scope: *scope, DryRun: *dryRun}
	for _, raw := range strings.Split(*phases, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		phase, err := cleanup.ParsePhase(raw)
		if err != nil {
			return err
		}
		opts.Phases = append(opts.Phases, phase)
	}

	res, err := rt.Sweeper.RunCleanup(ctx, opts)
	if err != nil {
		return err
	}
	return printJSON(out, res)
}

func runLedger(ctx context.Context, rt *bootstrap.Runtime, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: lfgctl ledger status|retry|requeue|purge")
	}
	fs := flag.NewFlagSet("ledger "+args[0], flag.ContinueOnError)
	limit := fs.Int("limit", 20, "Exhausted records to list")
	batch := fs.Int("batch", rt.Config.RetryBatchSize, "Records to retry")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "status":
		status, err := rt.Ledger.Report(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(out, status)
	case "retry":
		n, err := rt.Ledger.RetryPending(ctx, *batch)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int{"retried": n})
	case "requeue":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: lfgctl ledger requeue <id>")
		}
		id, err := strconv.ParseUint(fs.Arg(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid record id %q: %w", fs.Arg(0), err)
		}
		rec, err := rt.Ledger.Requeue(ctx, uint(id))
		if err != nil {
			return err
		}
		return printJSON(out, rec)
	case "purge":
		n, err := rt.Ledger.PurgeResolved(ctx, rt.Config.LedgerGrace())
		if err != nil {
			return err
		}
		return printJSON(out, map[string]int64{"purged": n})
	default:
		return fmt.Errorf("unknown ledger command %q", args[0])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
