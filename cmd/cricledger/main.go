package main

import (
	"CricLedger/internal/contest"
	"CricLedger/internal/deposit"
	"CricLedger/internal/event"
	"CricLedger/internal/ingestion"
	"CricLedger/internal/ledger"
	"CricLedger/internal/observability"
	"CricLedger/internal/persistence"
	"CricLedger/internal/query"
	"CricLedger/internal/retry"
	"CricLedger/internal/scheduler"
	"CricLedger/internal/server"
	"CricLedger/internal/withdrawal"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: CricLedger starting...")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: config: %v", err)
	}
	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := func(component string) zerolog.Logger {
		return observability.NewLoggerTo(os.Stdout, component, level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.PGMaxOpenConns)
	db.SetMaxIdleConns(cfg.PGMaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	if cfg.AutoMigrate {
		n, err := persistence.NewMigrator(db, cfg.MigrationsDir, logger("migrator")).Up(ctx)
		if err != nil {
			log.Fatalf("FATAL: run migrations: %v", err)
		}
		log.Printf("INFO: %d migrations applied", n)
	}

	pg := persistence.NewPostgresStore(db,
		persistence.WithLockTimeout(cfg.LockTimeout),
		persistence.WithStatementTimeout(cfg.StatementTimeout),
	)

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()
	health.AddCheck("postgres", pg.Ping)

	// --- Brokers ---
	var (
		nc        *nats.Conn
		js        jetstream.JetStream
		sinks     event.Multi
		signaler  withdrawal.PayoutSignaler
		confirmQ  confirmQueue
		kafkaSink *ingestion.KafkaPublisher
	)
	if cfg.NATSEnabled {
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, logger("nats"))
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		log.Println("INFO: NATS connected")

		if err := ingestion.EnsureStreams(ctx, js, logger("nats")); err != nil {
			log.Fatalf("FATAL: ensure NATS streams: %v", err)
		}
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})

		sinks = append(sinks, ingestion.NewEventPublisher(js, metrics))
		signaler = ingestion.NewPayoutSignaler(js)
		confirmQ = ingestion.NewDepositQueue(js, logger("deposit-queue"), metrics)
	} else {
		log.Println("WARN: NATS disabled, confirm jobs run in-process and payouts cannot be signalled")
		confirmQ = deposit.NewLocalQueue(4096, cfg.LocalQueueWorkers, logger("deposit-queue"))
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		kafkaSink = ingestion.NewKafkaPublisher(brokers, cfg.KafkaTopic, metrics)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Printf("INFO: Kafka event sink enabled (topic=%s)", cfg.KafkaTopic)
	}
	var events event.Publisher = event.Nop{}
	if len(sinks) > 0 {
		events = sinks
	}

	// --- Services ---
	l := ledger.New(pg, logger("ledger"), metrics, ledger.WithRetryPolicy(retry.Policy{
		Attempts: cfg.RetryAttempts,
		Initial:  retry.DefaultPolicy.Initial,
		Max:      retry.DefaultPolicy.Max,
	}))
	depositCfg := deposit.DefaultConfig
	depositCfg.Threshold = cfg.ConfirmationThreshold
	pipeline := deposit.NewPipeline(l, confirmQ, events, logger("deposit"), metrics, depositCfg)

	contests := contest.NewManager(l, events, logger("contest"), metrics)
	deps := &server.Deps{
		Ledger:      l,
		Admin:       ledger.NewAdmin(l, events, logger("wallet-admin")),
		Deposits:    pipeline,
		Contests:    contests,
		Entries:     contest.NewEntryManager(l, events, logger("contest-entry"), metrics),
		Settlement:  contest.NewSettlementEngine(l, events, logger("settlement"), metrics),
		Withdrawals: withdrawal.NewManager(l, signaler, events, logger("withdrawal"), metrics, cfg.PayoutSignalTimeout),
		Query:       query.NewService(db),
		Health:      health,
		Metrics:     metrics,
		Log:         logger("http"),

		WebhookRate:  cfg.WebhookRate,
		WebhookBurst: cfg.WebhookBurst,
	}
	if cfg.DepositSecret != "" {
		deps.Verifier = deposit.NewVerifier(cfg.DepositSecret)
	} else {
		log.Println("WARN: CRIC_DEPOSIT_HMAC_SECRET not set, deposit webhook accepts unsigned notifications")
	}

	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, deps)
	if err != nil {
		log.Fatalf("FATAL: build server: %v", err)
	}

	sched := scheduler.New(logger("scheduler"), metrics)
	if err := sched.Add("contest_cutoff", cfg.CutoffSpec, scheduler.ContestCutoff(contests, cfg.CutoffBatch, nil)); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := sched.Add("deposit_sweep", cfg.SweeperSpec, scheduler.DepositSweep(pipeline, cfg.StaleDepositAge)); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// --- Goroutine inventory ---
	g, gctx := errgroup.WithContext(ctx)

	// 1. Deposit confirm queue
	g.Go(func() error { return confirmQ.Run(gctx, pipeline.Handle) })

	// 2. Broker-side deposit notifications
	if js != nil {
		sub := ingestion.NewNotificationSubscriber(js, pipeline, logger("deposit-subscriber"), metrics)
		if err := sub.Subscribe(gctx); err != nil {
			log.Fatalf("FATAL: nats subscribe: %v", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			sub.Stop()
			return nil
		})
	}

	// 3. Scheduled jobs
	g.Go(func() error { return sched.Run(gctx) })

	// 4. gRPC server
	g.Go(func() error { return srv.StartGRPC(gctx) })

	// 5. HTTP/JSON gateway
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })

	// 6. Prometheus metrics server
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr) })

	// Sweep once at startup for deposits stranded by a previous crash.
	if n, err := pipeline.RequeueStale(ctx, cfg.StaleDepositAge); err != nil {
		log.Printf("WARN: startup deposit sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("INFO: startup sweep re-scheduled %d deposits", n)
	}

	health.SetReady(true)
	srv.SetServing(true)
	log.Printf("INFO: CricLedger ready (grpc=%s, http=%s, metrics=%s, nats=%v)",
		cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr, cfg.NATSEnabled)

	<-gctx.Done()
	health.SetReady(false)
	if ctx.Err() != nil {
		log.Println("INFO: received shutdown signal, shutting down...")
	}

	if err := g.Wait(); err != nil {
		log.Printf("ERROR: goroutine failed: %v", err)
		log.Println("INFO: CricLedger shutdown complete")
		os.Exit(1)
	}
	log.Println("INFO: CricLedger shutdown complete")
}

// confirmQueue is a deposit.Scheduler that also consumes what it schedules.
type confirmQueue interface {
	deposit.Scheduler
	Run(ctx context.Context, handle deposit.Handler) error
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("INFO: Metrics server listening on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
