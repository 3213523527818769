package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	golog "gopkg.in/op/go-logging.v1"

	"redis/internal/config"
	"redis/internal/conn"
	"redis/internal/logging"
	"redis/internal/metrics"
	"redis/internal/rdb"
	"redis/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logging.Init(cfg.LogLevel)
	log := logging.Get("main")

	entries, err := rdb.Load(cfg.RDBPath())
	if err != nil {
		log.Errorf("loading snapshot: %v", err)
		os.Exit(1)
	}

	st := store.New(cfg)
	st.LoadSnapshot(entries)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serveRESP(gctx, cfg.ListenAddr(), st, log)
	})

	g.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddr, log)
	})

	if cfg.ReplicaOf != nil {
		g.Go(func() error {
			return conn.ServeReplicaLink(cfg.ReplicaOf, cfg.Port, st)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

func serveRESP(ctx context.Context, addr string, st *store.Store, log *golog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Infof("listening for RESP connections on %s", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go conn.ServeClient(c, st)
	}
}

func serveMetrics(ctx context.Context, addr string, log *golog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
