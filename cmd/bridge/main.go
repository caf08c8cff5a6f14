package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ethbridge/internal/bus"
	"ethbridge/internal/config"
	"ethbridge/internal/eth"
	"ethbridge/internal/journal"
	"ethbridge/internal/logging"
	"ethbridge/internal/metrics"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")

	var (
		nodeID      = flag.String("node", "", "Node identity within the bus")
		rpcURL      = flag.String("rpc-url", "", "Ethereum RPC endpoint (ws:// or wss:// only)")
		natsURL     = flag.String("nats-url", "", "NATS server URL for the bus transport")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		adminAddr   = flag.String("admin", "", "Admin HTTP listen address (empty to disable)")
		journalPath = flag.String("journal", "", "LevelDB path for the event journal (empty to disable)")
	)
	flag.Parse()

	cfg := &config.AppConfig{}
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config file %s: %v", *configFile, err)
		}
	}

	// Command-line flags override the config file.
	if *nodeID != "" {
		cfg.Identity.Node = *nodeID
	}
	if *rpcURL != "" {
		cfg.Eth.RPCURL = *rpcURL
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *journalPath != "" {
		cfg.Storage.LevelDBPath = *journalPath
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.Init(cfg.LogLevel)
	logger := logging.NewDefaultLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A bad scheme or unreachable endpoint is fatal: the bridge does not
	// come up without its upstream socket.
	client, err := eth.Dial(ctx, cfg.Eth.RPCURL, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RPC endpoint: %v", err)
	}
	defer client.Close()

	transport, err := bus.Connect(cfg.NATS.URL, "ethbridge-"+cfg.Identity.Node, cfg.NATS.SubjectPrefix, logger)
	if err != nil {
		log.Fatalf("Failed to connect to bus: %v", err)
	}
	defer transport.Close()

	our := bus.Address{Node: cfg.Identity.Node, Process: eth.ProcessName}
	inbound, err := transport.Listen(our, 0)
	if err != nil {
		log.Fatalf("Failed to listen on bus address %s: %v", our, err)
	}

	bridge := eth.NewBridge(our, client, transport, logger)
	bridge.AttachDeduper(bus.NewDeduper(cfg.NATS.DedupeMax, cfg.NATS.DedupeTTL()))

	if cfg.Storage.LevelDBPath != "" {
		j, err := journal.Open(cfg.Storage.LevelDBPath)
		if err != nil {
			log.Fatalf("Failed to open event journal: %v", err)
		}
		defer j.Close()
		bridge.AttachJournal(j)
		logger.Infof("Event journal enabled at %s", cfg.Storage.LevelDBPath)
	}

	var admin *eth.AdminServer
	adminListen := *adminAddr
	if adminListen == "" && cfg.Metrics.Enabled {
		adminListen = cfg.Metrics.ListenAddr
	}
	if adminListen != "" {
		admin = eth.NewAdminServer(adminListen, bridge.Registry(), logger)
		if cfg.Metrics.Enabled {
			prom := metrics.NewProm()
			bridge.AttachMetrics(prom)
			admin.AttachMetricsHandler(prom.Handler())
		}
		if err := admin.Start(); err != nil {
			log.Fatalf("Failed to start admin HTTP service: %v", err)
		}
		defer admin.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.Run(ctx, inbound) }()

	logger.Infof("Bridge is running as %s against %s. Press Ctrl+C to stop.", our, cfg.Eth.RPCURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Shutting down bridge...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Errorf("Bridge stopped: %v", err)
		}
	}

	logger.Info("Bridge shutdown complete")
}
