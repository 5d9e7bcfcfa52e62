package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	backend "github.com/fox-one/lockbox"
	"golang.org/x/sync/errgroup"
)

var cfg struct {
	dbPath    string
	port      int
	admin     string
	issuer    string
	secret    string
	oracleURL string
	brokers   string
}

func init() {
	flag.StringVar(&cfg.dbPath, "db", "lockbox.db", "database path")
	flag.IntVar(&cfg.port, "port", 8080, "http port")
	flag.StringVar(&cfg.admin, "admin", "", "admin account id")
	flag.StringVar(&cfg.issuer, "issuer", "lockbox", "jwt issuer")
	flag.StringVar(&cfg.secret, "secret", "", "jwt hmac secret")
	flag.StringVar(&cfg.oracleURL, "oracle", "", "reflector price feed base url")
	flag.StringVar(&cfg.brokers, "kafka", "", "comma separated kafka brokers, empty to log events")

	flag.Parse()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	if cfg.admin == "" || cfg.secret == "" || cfg.oracleURL == "" {
		slog.Error("admin, secret and oracle are required")
		return
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.dbPath))
	if err != nil {
		slog.Error("open db failed", slog.Any("err", err))
		return
	}
	defer db.Close()

	slog.Info("lockbox launch", "ver", "0.1")

	var emitter backend.Emitter = backend.LogEmitter{}
	if cfg.brokers != "" {
		kafka := backend.NewKafkaEmitter(strings.Split(cfg.brokers, ","))
		defer kafka.Close()
		emitter = kafka
	}

	engine := backend.NewEngine(
		db,
		backend.BadgerLedger{},
		backend.NewReflectorClient(cfg.oracleURL),
		backend.SysClock{},
		backend.ContextAuthorizer{},
		emitter,
		backend.Config{Admin: cfg.admin},
	)

	svr := backend.NewServer(engine, backend.ServerConfig{
		Issuer: cfg.issuer,
		Secret: []byte(cfg.secret),
	})

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.port),
		Handler: svr.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", slog.String("addr", s.Addr))
		return s.ListenAndServe()
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.Shutdown(ctx)
	})

	g.Go(func() error {
		return runGC(ctx, db, time.Minute)
	})

	_ = g.Wait()
}

func runGC(ctx context.Context, db *badger.DB, dur time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			_ = db.RunValueLogGC(0.7)
		}
	}
}
