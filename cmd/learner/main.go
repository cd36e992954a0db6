// Command learner runs commit aggregation and the tunable-consistency read
// path as a standalone HTTP service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/paxoskv/paxoskv/internal/cluster"
	learnersvc "github.com/paxoskv/paxoskv/internal/learner"
	"github.com/paxoskv/paxoskv/internal/notify"
	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/client/rest"
	"github.com/paxoskv/paxoskv/pkg/config"
	"github.com/paxoskv/paxoskv/pkg/logger"
	"github.com/paxoskv/paxoskv/pkg/server"
)

type appConfig struct {
	Self string `env:"SELF_ADDR" validate:"required"`

	Cluster  cluster.Config
	Server   server.Config
	Client   rest.Config
	Log      logger.Config
	NATSURL  string `env:"NATS_URL" env-default:"nats://localhost:4222"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	log := logger.Init(cfg.Log)

	httpClient := transport.NewClient(cfg.Client)

	l := paxos.NewLearner(paxos.LearnerConfig{
		ID:             cfg.Self,
		AcceptorIDs:    cfg.Cluster.AcceptorHosts,
		PeerLearnerIDs: cluster.PeersExcept(cfg.Cluster.LearnerHosts, cfg.Self),
		Quorum:         cfg.Cluster.Quorum(),
		SyncInterval:   cfg.Cluster.SyncInterval,
	}, httpClient, httpClient, log)

	var publisher *notify.Publisher
	if conn, err := nats.Connect(cfg.NATSURL); err == nil {
		publisher = notify.NewPublisher(conn, log)
		defer conn.Close()
	} else {
		log.Warn("nats unavailable, commit notifications disabled", "error", err)
	}

	svc := learnersvc.NewService(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	learnersvc.Run(ctx, l)
	if publisher != nil {
		go pollAndPublish(ctx, l, publisher, log)
	}

	srv := server.New("learner", cfg.Server, log)
	svc.Register(srv.Echo())

	go func() {
		if err := srv.Start(); err != nil {
			log.Info("learner server stopped", "error", err)
		}
	}()

	waitForShutdown(srv, log)
}

// pollAndPublish watches CommittedUpTo and publishes one CommitEvent per
// newly-decided slot, giving subscribers a best-effort live feed on top of
// the Learner's own durable commit watermark.
func pollAndPublish(ctx context.Context, l *paxos.Learner, pub *notify.Publisher, log *slog.Logger) {
	var lastPublished paxos.Slot = -1
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := l.CommittedUpTo()
			for slot := lastPublished + 1; slot <= cur; slot++ {
				pub.PublishCommit(notify.CommitEvent{Slot: slot})
			}
			lastPublished = cur
		}
	}
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
