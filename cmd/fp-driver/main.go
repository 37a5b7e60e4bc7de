package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/driver"
	"github.com/kstaniek/go-fp-driver/internal/frame"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/server"
	"github.com/kstaniek/go-fp-driver/internal/transport"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Printf("fp-driver %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg.listPorts {
		ports, err := transport.ListSerialPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	emit := func(rec convert.Record) {
		if cfg.logRecords {
			l.Info("record", "category", rec.Category, "data", rec.Data)
		}
		h.Broadcast(rec)
	}
	reg := convert.Build(cfg.formats, emit, convert.WithLogger(l))
	l.Info("converters", "categories", reg.Categories())

	layouts, err := cfg.binaryLayouts()
	if err != nil {
		l.Error("binary_layouts", "error", err)
		return
	}
	scanner := frame.NewScanner(frame.WithLayouts(layouts...), frame.WithStrictAscii(cfg.nmeaStrict))
	drv := driver.New(cfg.transportParams(), reg, driver.WithLogger(l), driver.WithScanner(scanner))
	queue := newCommandQueue(cfg.wsQueue, l)
	r := &runner{drv: drv, queue: queue, interval: cfg.pollInterval, log: l}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.run(ctx)
	}()

	cleanupCAN := func() {}
	if cfg.wsCANIf != "" {
		c, err := startCANWheelSpeeds(ctx, cfg, queue.Push, l, &wg)
		if err != nil {
			l.Error("wheel_speed_can_error", "error", err)
		} else {
			cleanupCAN = c
		}
	}

	var srv *server.Server
	if cfg.listenAddr != "" {
		srv = server.NewServer(
			server.WithListenAddr(cfg.listenAddr),
			server.WithHub(h),
			server.WithCommand(queue.Push),
			server.WithLogger(l),
			server.WithMaxClients(cfg.maxClients),
			server.WithHandshakeTimeout(cfg.handshakeTO),
			server.WithReadDeadline(cfg.clientReadTO),
		)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				l.Error("tcp_server_error", "error", err)
				cancel()
			}
		}()
		go advertise(ctx, cfg, srv, l)
	}

	// Ready while the sensor is connected and, if enabled, the stream
	// listener is bound.
	metrics.SetReadinessFunc(func() bool {
		if ctx.Err() != nil || !r.connected.Load() {
			return false
		}
		if srv == nil {
			return true
		}
		select {
		case <-srv.Ready():
			return true
		default:
			return false
		}
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.Shutdown(sctx); err != nil {
			l.Warn("server_shutdown_error", "error", err)
		}
		scancel()
	}
	cleanupCAN()
	wg.Wait()
	queue.Close()
}

// advertise starts mDNS once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	var port int
	if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
		port, _ = strconv.Atoi(p)
	}
	cleanup, err := startMDNS(ctx, cfg, port)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "port", port)
	go func() { <-ctx.Done(); cleanup() }()
}
