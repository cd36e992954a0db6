// Command gateway runs the client-facing edge: leader resolution for
// writes, consistency-mode routing for reads, and the commit-notification
// subscribe/unsubscribe surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/paxoskv/paxoskv/internal/cluster"
	gatewaypkg "github.com/paxoskv/paxoskv/internal/gateway"
	"github.com/paxoskv/paxoskv/internal/gateway/leadercache"
	"github.com/paxoskv/paxoskv/internal/notify"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/client/rest"
	"github.com/paxoskv/paxoskv/pkg/config"
	"github.com/paxoskv/paxoskv/pkg/logger"
	"github.com/paxoskv/paxoskv/pkg/redis"
	"github.com/paxoskv/paxoskv/pkg/server"
)

type appConfig struct {
	Cluster  cluster.Config
	Server   server.Config
	Client   rest.Config
	Log      logger.Config
	Redis    redis.Config
	NATSURL  string        `env:"NATS_URL" env-default:"nats://localhost:4222"`
	CacheTTL time.Duration `env:"LEADER_CACHE_TTL" env-default:"2s"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	log := logger.Init(cfg.Log)

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}

	httpClient := transport.NewClient(cfg.Client)
	cache := leadercache.New(redisClient, cfg.CacheTTL)

	gw := gatewaypkg.New(gatewaypkg.Config{
		ProposerIDs: cfg.Cluster.ProposerHosts,
		LearnerIDs:  cfg.Cluster.LearnerHosts,
	}, httpClient, cache, log)

	var subscriber *notify.Subscriber
	if conn, err := nats.Connect(cfg.NATSURL); err == nil {
		subscriber = notify.NewSubscriber(conn, log)
		defer conn.Close()
	} else {
		log.Warn("nats unavailable, subscribe/unsubscribe disabled", "error", err)
		subscriber = notify.NewSubscriber(nil, log)
	}

	svc := gatewaypkg.NewService(gw, subscriber)

	srv := server.New("gateway", cfg.Server, log)
	svc.Register(srv.Echo())

	go func() {
		if err := srv.Start(); err != nil {
			log.Info("gateway server stopped", "error", err)
		}
	}()

	waitForShutdown(srv, log)
}

func waitForShutdown(srv *server.Server, log interface{ Info(string, ...any) }) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	_ = srv.Shutdown(ctx)
}
