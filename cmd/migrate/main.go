// Command migrate applies and inspects the engine schema.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"lfgkeeper/internal/config"
	"lfgkeeper/internal/database"

	"gorm.io/gorm"
)

var errUsage = errors.New("usage: migrate <up|auto|status|verify|down> [version]")

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal(errUsage)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}

	if err := execute(context.Background(), db, cfg, flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func execute(ctx context.Context, db *gorm.DB, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, "sql migrations applied")
		return verify(ctx, db, out)
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		_, _ = fmt.Fprintln(out, "automigrations applied")
		return nil
	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d\n",
			status.Mode, status.Environment, status.WillRunSQL, status.WillRunAutoMigrate,
			len(status.AppliedVersions), len(status.PendingMigrations))
		for _, m := range status.PendingMigrations {
			_, _ = fmt.Fprintf(out, "pending: %s\n", m.String())
		}
		printTables(out, status.Tables)
		return nil
	case "verify":
		return verify(ctx, db, out)
	case "down":
		if len(args) < 2 {
			return errors.New("usage: migrate down <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.RollbackMigration(ctx, db, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "rolled back migration %d\n", version)
		return nil
	}
	return errUsage
}

// verify fails when an engine table or one of its indexes is missing.
func verify(ctx context.Context, db *gorm.DB, out io.Writer) error {
	tables, err := database.InspectTables(ctx, db)
	if err != nil {
		return err
	}
	printTables(out, tables)
	var notReady []string
	for _, t := range tables {
		if !t.Ready() {
			notReady = append(notReady, t.Name)
		}
	}
	if len(notReady) > 0 {
		return fmt.Errorf("schema not ready: %s", strings.Join(notReady, ", "))
	}
	return nil
}

func printTables(out io.Writer, tables []database.TableStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tEXISTS\tROWS\tMISSING INDEXES")
	for _, t := range tables {
		missing := "-"
		if len(t.MissingIndexes) > 0 {
			missing = strings.Join(t.MissingIndexes, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", t.Name, t.Exists, t.Rows, missing)
	}
	_ = w.Flush()
}
