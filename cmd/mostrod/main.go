// Package main provides the mostrod daemon - a non-custodial P2P Lightning
// exchange node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/mostro-exchange/mostrod/internal/keys"
	"github.com/mostro-exchange/mostrod/internal/lightning"
	"github.com/mostro-exchange/mostrod/internal/node"
	"github.com/mostro-exchange/mostrod/internal/orderbook"
	"github.com/mostro-exchange/mostrod/internal/price"
	"github.com/mostro-exchange/mostrod/internal/reputation"
	"github.com/mostro-exchange/mostrod/internal/rpc"
	"github.com/mostro-exchange/mostrod/internal/store"
	"github.com/mostro-exchange/mostrod/internal/trade"
	"github.com/mostro-exchange/mostrod/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.mostrod", "Data directory")
		configFile     = flag.String("config", "", "Config file path (default: <data-dir>/mostro.toml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("mostrod %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *node.Config
	var err error
	if *configFile != "" {
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}
	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := expandPath(cfg.Storage.DataDir)
	dbKeyHex := cfg.Storage.DBKeyHex
	if env := os.Getenv("MOSTRO_DB_KEY"); env != "" {
		dbKeyHex = env
	}
	st, err := store.New(&store.Config{DataDir: dataPath, DBKeyHex: dbKeyHex})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer st.Close()
	log.Info("Storage initialized", "path", dataPath)

	identity, err := loadOrCreateMostroIdentity(cfg, dataPath)
	if err != nil {
		log.Fatal("Failed to load Mostro identity", "error", err)
	}
	log.Info("Mostro identity loaded", "pubkey", identity.Public().Hex())

	lnRegistry := lightning.NewRegistry()
	lnRegistry.Register(lightning.NewLND(lightning.LNDConfig{
		Name:         cfg.Lightning.Name,
		Host:         cfg.Lightning.Host,
		TLSCertPath:  cfg.Lightning.TLSCertPath,
		MacaroonPath: cfg.Lightning.MacaroonPath,
	}))
	if err := lnRegistry.ConnectAll(ctx); err != nil {
		log.Fatal("Failed to connect Lightning node", "error", err)
	}
	defer lnRegistry.CloseAll()
	log.Info("Lightning node connected", "node", cfg.Lightning.Name, "host", cfg.Lightning.Host)

	quoter := price.New(&price.Config{
		BaseURL:        cfg.Price.BaseURL,
		RefreshPeriod:  cfg.Price.RefreshPeriod,
		RequestRetries: cfg.Price.RequestRetries,
		RetryBackoff:   cfg.Price.RetryBackoff,
	})
	go quoter.Run(ctx, cfg.Price.FiatCodes)
	log.Info("Price quoter started", "base_url", cfg.Price.BaseURL, "fiat_codes", cfg.Price.FiatCodes)

	rep := reputation.New(st)

	// Node is built before the engine it will carry: it is the
	// orderbook.Publisher the Book needs, and the Book is what the engine
	// needs, so construction runs Node -> Book -> Engine -> Node.Attach.
	n, err := node.New(ctx, cfg, identity, st)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	book := orderbook.New(identity, st, n)

	adminPubkeys := map[string]bool{identity.Public().Hex(): true}
	for _, pk := range cfg.Mostro.AdminPubkeys {
		adminPubkeys[pk] = true
	}

	engine := trade.New(st, lnRegistry, quoter, book, rep, &trade.Config{
		FeePct:                  cfg.Mostro.FeePct,
		DevFeePct:               cfg.Mostro.DevFeePct,
		MaxRoutingFeePct:        cfg.Mostro.MaxRoutingFeePct,
		MaxOrderAmount:          cfg.Mostro.MaxOrderAmount,
		MinPaymentAmount:        cfg.Mostro.MinPaymentAmount,
		ExpirationHours:         cfg.Mostro.ExpirationHours,
		ExpirationSeconds:       cfg.Mostro.ExpirationSeconds,
		MaxExpirationDays:       cfg.Mostro.MaxExpirationDays,
		PaymentAttempts:         cfg.Mostro.PaymentAttempts,
		PaymentRetriesInterval:  cfg.Mostro.PaymentRetriesInterval,
		HoldInvoiceCLTVDelta:    cfg.Mostro.HoldInvoiceCLTVDelta,
		HoldInvoiceExpiration:   cfg.Mostro.HoldInvoiceExpiration,
		InvoiceExpirationWindow: cfg.Mostro.InvoiceExpirationWindow,
		LightningNode:           cfg.Mostro.LightningNode,
		AdminPubkeys:            adminPubkeys,
	})
	defer engine.Close()

	if err := engine.ResubscribeHeldInvoices(); err != nil {
		log.Warn("Failed to resubscribe held invoices", "error", err)
	}

	n.Attach(engine)

	log.Info("Starting mostrod P2P node...")
	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.NewServer(n, st, engine)
		if err := rpcServer.Start(cfg.RPC.Addr()); err != nil {
			log.Fatal("Failed to start RPC server", "error", err)
		}
	}

	printBanner(log, n, cfg)

	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
	})
	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	daemonInfo := &orderbook.DaemonInfo{
		Version:                 version,
		CommitID:                commit,
		MaxOrderAmount:          cfg.Mostro.MaxOrderAmount,
		MinOrderAmount:          cfg.Mostro.MinOrderAmount,
		ExpirationHours:         cfg.Mostro.ExpirationHours,
		ExpirationSeconds:       cfg.Mostro.ExpirationSeconds,
		Fee:                     cfg.Mostro.FeePct,
		Pow:                     cfg.Mostro.Pow,
		HoldInvoiceExpiration:   int64(cfg.Mostro.HoldInvoiceExpiration.Seconds()),
		HoldInvoiceCLTVDelta:    cfg.Mostro.HoldInvoiceCLTVDelta,
		InvoiceExpirationWindow: int64(cfg.Mostro.InvoiceExpirationWindow.Seconds()),
	}
	if err := book.PublishDaemonInfo(ctx, daemonInfo); err != nil {
		log.Warn("Failed to publish daemon info", "error", err)
	}

	relaysInterval := cfg.Mostro.PublishRelaysInterval
	if relaysInterval <= 0 {
		relaysInterval = 60 * time.Second
	}
	infoInterval := cfg.Mostro.PublishInfoInterval
	if infoInterval <= 0 {
		infoInterval = 5 * time.Minute
	}
	go func() {
		resync := time.NewTicker(relaysInterval)
		info := time.NewTicker(infoInterval)
		expire := time.NewTicker(time.Minute)
		defer resync.Stop()
		defer info.Stop()
		defer expire.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-resync.C:
				if err := engine.ResyncOrderBook(ctx); err != nil {
					log.Warn("Order book resync failed", "error", err)
				}
			case <-info.C:
				if err := book.PublishDaemonInfo(ctx, daemonInfo); err != nil {
					log.Warn("Failed to publish daemon info", "error", err)
				}
			case <-expire.C:
				if err := engine.ExpireOrders(); err != nil {
					log.Warn("Order expiry sweep failed", "error", err)
				}
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()
	if rpcServer != nil {
		if err := rpcServer.Stop(); err != nil {
			log.Error("Error stopping RPC server", "error", err)
		}
	}
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// loadOrCreateMostroIdentity resolves the daemon's secp256k1 identity key:
// derived from a configured mnemonic, read from IdentityKeyFile, or
// generated fresh and persisted on first run. Mirrors node.loadOrCreateKey's
// pattern for the libp2p transport key, applied to the distinct Mostro
// identity.
func loadOrCreateMostroIdentity(cfg *node.Config, dataPath string) (*keys.PrivateKey, error) {
	if cfg.Mostro.Mnemonic != "" {
		return keys.FromMnemonic(cfg.Mostro.Mnemonic, cfg.Mostro.Passphrase)
	}

	keyFile := cfg.Mostro.IdentityKeyFile
	if keyFile == "" {
		keyFile = "mostro.key"
	}
	if !filepath.IsAbs(keyFile) {
		keyFile = filepath.Join(dataPath, keyFile)
	}

	if data, err := os.ReadFile(keyFile); err == nil {
		return keys.FromHex(strings.TrimSpace(string(data)))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity key file: %w", err)
	}

	priv, err := keys.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		return nil, fmt.Errorf("create identity key directory: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(priv.Hex()), 0600); err != nil {
		return nil, fmt.Errorf("write identity key file: %w", err)
	}
	return priv, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  mostrod (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Infof("  Mostro pubkey: %s", n.Identity().Hex())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
