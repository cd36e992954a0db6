// Command acceptor runs the durable, reactive Acceptor role as a standalone
// HTTP service (spec.md §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paxoskv/paxoskv/internal/acceptor"
	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/storage/sqlite"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/client/rest"
	"github.com/paxoskv/paxoskv/pkg/config"
	"github.com/paxoskv/paxoskv/pkg/logger"
	"github.com/paxoskv/paxoskv/pkg/server"
)

type appConfig struct {
	Self string `env:"SELF_ADDR" validate:"required"`

	LearnerHosts []string `env:"LEARNER_HOSTS" env-separator:"," validate:"required,min=1"`

	DBPath string `env:"ACCEPTOR_DB_PATH" env-default:"acceptor.db"`

	Server server.Config
	Client rest.Config
	Log    logger.Config
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	log := logger.Init(cfg.Log)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Error("open acceptor store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	httpClient := transport.NewClient(cfg.Client)
	broadcaster := learnerBroadcaster{client: httpClient, learnerHosts: cfg.LearnerHosts}

	acc := paxos.NewAcceptor(cfg.Self, store, broadcaster, log)
	svc := acceptor.NewService(acc)

	srv := server.New("acceptor", cfg.Server, log)
	svc.Register(srv.Echo())

	go func() {
		if err := srv.Start(); err != nil {
			log.Info("acceptor server stopped", "error", err)
		}
	}()

	waitForShutdown(srv, log)
}

// learnerBroadcaster fans an Acceptor's accepted value out to every known
// Learner over HTTP; it satisfies paxos.LearnerNotifier.
type learnerBroadcaster struct {
	client       *transport.Client
	learnerHosts []string
}

func (b learnerBroadcaster) Notify(ctx context.Context, slot paxos.Slot, acceptorID string, n paxos.ProposalNumber, v paxos.Value) {
	event := paxos.AcceptedNotification{Slot: slot, AcceptorID: acceptorID, N: n, Value: v}
	for _, host := range b.learnerHosts {
		go b.client.NotifyLearner(ctx, host, event)
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
