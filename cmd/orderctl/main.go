// Command orderctl is the operator-facing counterpart to orderd: it
// inspects and repairs the dead-letter queue and reconciles stock
// against confirmed orders. It connects to the same Postgres and
// Redis the daemon uses and performs no in-process queue processing
// of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"orderproc/internal/config"
	"orderproc/internal/db"
	"orderproc/internal/orderstore"
	"orderproc/internal/queue"
	"orderproc/internal/redisclient"
	"orderproc/internal/stock"
	"orderproc/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "dlq":
		runDLQ(os.Args[2:])
	case "stock":
		runStock(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `orderctl - order-processing operator tool

Usage:
  orderctl dlq list [-limit N]
  orderctl dlq requeue <job-id>
  orderctl stock reconcile <product-id>`)
}

func runDLQ(args []string) {
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	logger := mustLogger(cfg)
	defer logger.Sync()

	pg, err := db.OpenPostgres(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()

	redisConn, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisConn.Close()

	metrics := telemetry.NewMetrics()
	repo := queue.NewPostgresRepository(pg)
	index := queue.NewRedisIndex(redisConn)
	q := queue.New(queue.Config{
		Name:              cfg.Queue.Name,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BackoffBase:       cfg.Queue.BackoffBase,
		StallTimeout:      cfg.Queue.StallTimeout,
		RetentionComplete: cfg.Queue.RetentionComplete,
		RetentionFailed:   cfg.Queue.RetentionFailed,
	}, repo, index, logger, metrics)

	ctx := context.Background()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("dlq list", flag.ExitOnError)
		limit := fs.Int("limit", 50, "maximum number of dead-lettered jobs to list")
		fs.Parse(args[1:])

		jobs, err := q.ListFailed(ctx, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list failed jobs: %v\n", err)
			os.Exit(1)
		}
		if len(jobs) == 0 {
			fmt.Println("no dead-lettered jobs")
			return
		}
		for _, j := range jobs {
			fmt.Printf("%s\torder=%d\tattempts=%d/%d\tlast_error=%q\n", j.ID, j.OrderID, j.Attempts, j.MaxAttempts, j.LastError)
		}

	case "requeue":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: orderctl dlq requeue <job-id>")
			os.Exit(1)
		}
		job, err := q.Requeue(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "requeue job %s: %v\n", args[1], err)
			os.Exit(1)
		}
		fmt.Printf("requeued job %s (order %d) for redelivery\n", job.ID, job.OrderID)

	default:
		usage()
		os.Exit(1)
	}
}

func runStock(args []string) {
	if len(args) < 2 || args[0] != "reconcile" {
		usage()
		os.Exit(1)
	}

	productID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid product id %q: %v\n", args[1], err)
		os.Exit(1)
	}

	cfg := config.Load()
	logger := mustLogger(cfg)
	defer logger.Sync()

	pg, err := db.OpenPostgres(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()

	catalog := stock.NewCatalog(pg, nil)
	orders := orderstore.NewPostgresStore(pg)

	ctx := context.Background()

	stk, err := catalog.GetStockByProductID(ctx, productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load stock for product %d: %v\n", productID, err)
		os.Exit(1)
	}
	product, err := catalog.GetProduct(ctx, productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load product %d: %v\n", productID, err)
		os.Exit(1)
	}

	confirmedQty, err := orders.SumConfirmedQuantity(ctx, productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sum confirmed orders for product %d: %v\n", productID, err)
		os.Exit(1)
	}

	// If every reservation that ever decremented quantity was later
	// either confirmed or released back, current quantity should equal
	// initial quantity minus everything still committed to a CONFIRMED
	// order. Any other loss means a Release compensation failed after a
	// payment failure or a lost confirm race (spec.md §4.4 step 5).
	expected := stk.InitialQuantity - confirmedQty
	drift := stk.Quantity - expected

	fmt.Printf("product %d (%s)\n", productID, product.Name)
	fmt.Printf("  initial stock quantity : %d\n", stk.InitialQuantity)
	fmt.Printf("  current stock quantity : %d\n", stk.Quantity)
	fmt.Printf("  confirmed order units  : %d\n", confirmedQty)
	fmt.Printf("  expected stock quantity: %d\n", expected)
	fmt.Printf("  stock version          : %d\n", stk.Version)
	if drift != 0 {
		fmt.Printf("  DRIFT DETECTED: %d units unaccounted for — check stock_compensation_failures_total\n", drift)
		os.Exit(2)
	}
	fmt.Println("  no drift detected")
}

func mustLogger(cfg *config.Config) *zap.Logger {
	logger, err := telemetry.NewLogger(cfg.Server.Env)
	if err != nil {
		panic(err)
	}
	return logger
}
