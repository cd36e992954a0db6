// Command proposer runs Phase 1/2 proposing and the Multi-Paxos leader
// election/heartbeat state machine as a standalone HTTP service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paxoskv/paxoskv/internal/cluster"
	"github.com/paxoskv/paxoskv/internal/paxos"
	proposersvc "github.com/paxoskv/paxoskv/internal/proposer"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/client/rest"
	"github.com/paxoskv/paxoskv/pkg/config"
	"github.com/paxoskv/paxoskv/pkg/logger"
	"github.com/paxoskv/paxoskv/pkg/server"
)

type appConfig struct {
	Self string `env:"SELF_ADDR" validate:"required"`

	Cluster cluster.Config
	Server  server.Config
	Client  rest.Config
	Log     logger.Config
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	log := logger.Init(cfg.Log)

	httpClient := transport.NewClient(cfg.Client)

	p := paxos.NewProposer(paxos.ProposerConfig{
		ID:                cfg.Self,
		AcceptorIDs:       cfg.Cluster.AcceptorHosts,
		Quorum:            cfg.Cluster.Quorum(),
		PeerProposerIDs:   cluster.PeersExcept(cfg.Cluster.ProposerHosts, cfg.Self),
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		LeaderTimeout:     cfg.Cluster.LeaderTimeout,
		MaxInflightSlots:  cfg.Cluster.MaxInflightSlots,
	}, httpClient, httpClient, httpClient, log)

	svc := proposersvc.NewService(p, nil)
	proposersvc.Run(context.Background(), p, cfg.Cluster.LearnerHosts)

	srv := server.New("proposer", cfg.Server, log)
	svc.Register(srv.Echo())

	go func() {
		if err := srv.Start(); err != nil {
			log.Info("proposer server stopped", "error", err)
		}
	}()

	waitForShutdown(srv, p, log)
}

func waitForShutdown(srv *server.Server, p *paxos.Proposer, log interface{ Info(string, ...any) }) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	p.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	_ = srv.Shutdown(ctx)
}
