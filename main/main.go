// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ava-labs/intentguard/intentguard"
	"github.com/ava-labs/intentguard/memledger"
	"github.com/ava-labs/intentguard/relay"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	v, err := getViper()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	p, err := parseParams(v)
	if err != nil {
		fmt.Printf("couldn't parse config: %s\n", err)
		os.Exit(1)
	}
	// Print version and exit
	if p.version {
		fmt.Printf("%s@%s\n", intentguard.Name, intentguard.Version)
		os.Exit(0)
	}

	log.Root().SetHandler(log.LvlFilterHandler(p.logLevel, log.StreamHandler(os.Stderr, log.TerminalFormat())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, p); err != nil {
		log.Error("intentguard exited with an error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, p *params) error {
	registry := prometheus.NewRegistry()

	db, err := openDB(p.dbDir, registry)
	if err != nil {
		return err
	}
	defer db.Close()

	sinks := []intentguard.EventSink{&relay.LogSink{Log: log.New("module", "relay")}}
	if p.redisAddr != "" {
		redisSink := relay.NewRedisSink(p.redisAddr, p.redisPassword, p.redisDB, p.redisChannel)
		defer redisSink.Close()
		sinks = append(sinks, redisSink)
	}
	events := intentguard.NewDispatcher(log.New("module", "events"), sinks...)
	defer events.Close()

	// The standalone binary drives an in-process ledger. Deployments in front
	// of a real chain provide their own intentguard.Ledger.
	controller, err := intentguard.NewController(p.config, db, intentguard.Dependencies{
		Ledger:     memledger.New(),
		Events:     events,
		Registerer: registry,
	})
	if err != nil {
		return err
	}
	handler, err := intentguard.NewHandler(intentguard.NewService(controller, rate.Limit(p.verdictRate), p.verdictBurst))
	if err != nil {
		return fmt.Errorf("couldn't register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ext/"+intentguard.Name, handler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              p.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errs := make(chan error, 1)
	go func() {
		log.Info("serving intentguard", "addr", p.httpAddr, "version", intentguard.Version)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openDB(dir string, registerer prometheus.Registerer) (database.Database, error) {
	if dir == "" {
		log.Warn("no database directory given, state is kept in memory")
		return memdb.New(), nil
	}
	db, err := leveldb.New(dir, nil, logging.NoLog{}, "db", registerer)
	if err != nil {
		return nil, fmt.Errorf("couldn't open database at %s: %w", dir, err)
	}
	return db, nil
}
