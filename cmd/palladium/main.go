package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ZentaChain/palladium/pkg/api"
	"github.com/ZentaChain/palladium/pkg/crypto"
	"github.com/ZentaChain/palladium/pkg/discovery"
	"github.com/ZentaChain/palladium/pkg/network"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

const (
	defaultKeyPath = "./keys/palladium.pem"
	statusInterval = 5 * time.Minute
	logoutTimeout  = 5 * time.Second
)

var (
	host        = flag.String("host", "255.255.255.255", "Broadcast address for outbound packets")
	port        = flag.Int("port", network.DefaultPort, "UDP port shared by every node on the LAN")
	endpoint    = flag.String("endpoint", "", "Endpoint multiaddr, e.g. /ip4/192.168.1.255/udp/13370 (overrides -host/-port)")
	nick        = flag.String("nick", "", "Nickname")
	apiPort     = flag.Int("api", 0, "Port for the local HTTP API (0 disables it)")
	enableMDNS  = flag.Bool("mdns", true, "Advertise this node over mDNS")
	keyPath     = flag.String("key", defaultKeyPath, "Path to private key file")
	generateKey = flag.Bool("genkey", false, "Generate a new private key even if one exists")
	consoleMode = flag.Bool("console", true, "Read commands from stdin")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	log, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	defer memguard.Purge()

	printBanner()

	cfg, err := engineConfig()
	if err != nil {
		fatal(log, "invalid endpoint", zap.Error(err))
	}

	key, err := loadOrGenerateKey(*keyPath, *generateKey, log)
	if err != nil {
		fatal(log, "failed to load/generate key", zap.Error(err))
	}

	user, err := protocol.CurrentWithKey(key)
	if err != nil {
		fatal(log, "failed to determine identity", zap.Error(err))
	}
	if *nick != "" {
		if user, err = user.WithNick(*nick); err != nil {
			fatal(log, "invalid nickname", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := network.NewEngine(cfg, network.WithLogger(log.Named("engine")))
	if err != nil {
		fatal(log, "failed to start UDP engine", zap.Error(err))
	}
	log.Info("✓ UDP engine listening", zap.Stringer("endpoint", cfg), zap.Stringer("local", engine.LocalAddr()))

	client, err := network.NewClient(ctx, user, engine, network.WithClientLogger(log.Named("session")))
	if err != nil {
		engine.Close()
		fatal(log, "failed to log in", zap.Error(err))
	}
	log.Info("✓ Logged in", zap.String("account", user.Account()), zap.String("fingerprint", key.Fingerprint()))

	var advertiser *discovery.Advertiser
	if *enableMDNS {
		advertiser, err = discovery.Announce(client.Identity(), cfg.Port, log.Named("mdns"))
		if err != nil {
			log.Warn("⚠️  mDNS advertisement disabled", zap.Error(err))
		}
	}

	var server *api.Server
	if *apiPort > 0 {
		apiConfig := api.DefaultConfig()
		apiConfig.Port = *apiPort
		server, err = api.NewServer(client, apiConfig, log.Named("api"))
		if err != nil {
			fatal(log, "failed to create API server", zap.Error(err))
		}
		go func() {
			if err := server.Start(ctx); err != nil {
				log.Error("API server stopped", zap.Error(err))
			}
		}()
	}

	go startStatusLoop(ctx, engine, client, log)
	if advertiser != nil {
		go followNick(ctx, client, advertiser)
	}

	printStatus(engine, client, advertiser != nil, server)

	quit := make(chan struct{})
	if *consoleMode {
		go func() {
			if runConsole(ctx, client, os.Stdin, os.Stdout) {
				close(quit)
			}
		}()
	}

	waitForShutdown(quit, log)

	if advertiser != nil {
		advertiser.Shutdown()
	}

	logoutCtx, logoutCancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer logoutCancel()
	if err := client.Logout(logoutCtx); err != nil && !errors.Is(err, network.ErrOffline) {
		log.Warn("logout failed", zap.Error(err))
	}
	cancel()

	log.Info("✓ Session closed")
	fmt.Println("Goodbye! 👋")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid -log-level: %w", err)
	}

	config := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	return config.Build()
}

func engineConfig() (network.Config, error) {
	if *endpoint != "" {
		return network.ConfigFromMultiaddr(*endpoint)
	}
	cfg := network.DefaultConfig()
	cfg.Host = *host
	cfg.Port = *port
	return cfg, cfg.Validate()
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║               Palladium LAN Chat                  ║")
	fmt.Println("║      Serverless encrypted chat over broadcast     ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func loadOrGenerateKey(path string, generate bool, log *zap.Logger) (*crypto.Key, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if generate {
		log.Info("Generating new RSA-2048 key pair...")
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveKeyFile(key, path); err != nil {
			return nil, err
		}
		log.Info("✓ New key saved", zap.String("path", path))
		return key, nil
	}

	key, created, err := crypto.LoadOrGenerateKeyFile(path)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("✓ New key saved", zap.String("path", path))
	} else {
		log.Info("✓ Private key loaded", zap.String("path", path))
	}
	return key, nil
}

// followNick re-publishes the mDNS TXT records when our nickname changes.
func followNick(ctx context.Context, client *network.Client, advertiser *discovery.Advertiser) {
	sub := client.SubscribeRoster(8)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if e.Change == network.UserRenamed && e.User.SameEndpoint(client.Identity()) {
				advertiser.Update(e.User)
			}
		}
	}
}

func startStatusLoop(ctx context.Context, engine *network.Engine, client *network.Client, log *zap.Logger) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, received, failed := engine.Stats()
			log.Info("💓 Heartbeat",
				zap.Stringer("state", client.State()),
				zap.Int("users", len(client.Users())),
				zap.Int("messages", len(client.Messages())),
				zap.Int("pending_acks", client.PendingAcks()),
				zap.Uint64("sent", sent),
				zap.Uint64("received", received),
				zap.Uint64("failed", failed))
		}
	}
}

func printStatus(engine *network.Engine, client *network.Client, mdns bool, server *api.Server) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Palladium Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Status: ✅ %s\n", client.State())
	fmt.Printf("   User: %s\n", client.Identity().DisplayName())
	fmt.Printf("   Account: %s\n", client.Identity().Account())
	fmt.Printf("   Endpoint: %s\n", engine.Config())
	if mdns {
		fmt.Printf("   mDNS: ✅ %s\n", discovery.InstanceName(client.Identity()))
	} else {
		fmt.Printf("   mDNS: ⚠️  DISABLED\n")
	}
	if server != nil {
		fmt.Printf("   API: ✅ http://%s\n", server.Addr())
	} else {
		fmt.Printf("   API: ⚠️  DISABLED\n")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("💡 Type /help for commands")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}

func waitForShutdown(quit <-chan struct{}, log *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		fmt.Println()
	case <-quit:
	}
	log.Info("Shutting down gracefully...")

	// A second interrupt while logging out wipes key material and exits.
	signal.Stop(sigChan)
	memguard.CatchInterrupt()
}

// fatal wipes key material, then logs and exits. Deferred calls do not run.
func fatal(log *zap.Logger, msg string, fields ...zap.Field) {
	memguard.Purge()
	log.Fatal(msg, fields...)
}
