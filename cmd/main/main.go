package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"vote-spin/src/analysis"
	"vote-spin/src/auth"
	"vote-spin/src/config"
	"vote-spin/src/dispatch"
	"vote-spin/src/logger"
	"vote-spin/src/server"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
)

func main() {
	// 1. Parse command line flags
	configPath := pflag.StringP("config", "c", "config/default.yaml", "path to config file")
	envFile := pflag.String("env-file", ".env", "optional .env file with VOTESPIN_* overrides")
	pflag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath, *envFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Setup Components
	store, err := setupDatabase(ctx, conf.MConfig, clock, appLogger)
	if err != nil {
		os.Exit(1)
	}
	defer store.Close()

	relay := setupRelay(ctx, conf.MConfig, appLogger)
	if relay != nil {
		defer relay.Close()
	}

	hub := server.NewHub(appLogger.Named("Hub"), clock, conf.HeartbeatInterval(), conf.Live.SubscriberBuffer)
	queue := dispatch.NewQueue(conf, store, appLogger.Named("Queue"))
	aggregator := analysis.NewSnapshotAggregator(store, appLogger.Named("Analysis"))
	service := dispatch.NewService(conf, store, queue, aggregator, hub, relayOrNil(relay), appLogger.Named("Service"))

	resolver := auth.NewStaticTokenResolver(conf.Auth.Tokens)
	srv := server.NewHTTPServer(conf, appLogger.Named("HTTPServer"), hub, service, resolver, clock)

	// 5. Background loops
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRelay(ctx, relay, service, appLogger)
		}()
	}

	// 6. Start Servers
	servers := startServers(ctx, conf, srv, service, resolver, appLogger)

	appLogger.Info("%s ready: %d entities, %d queues", conf.Name, len(conf.Entities), len(conf.Dispatch.Queues))
	<-ctx.Done()

	// 7. Shutdown
	appLogger.Info("Shutting down...")
	servers.shutdown(appLogger)
	wg.Wait()
	appLogger.Info("Shutdown complete.")
}
