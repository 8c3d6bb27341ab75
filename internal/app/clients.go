package app

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/recall-backend/internal/clients/redis"
	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/platform/neo4jdb"
	"github.com/yungbote/recall-backend/internal/platform/openai"
	"github.com/yungbote/recall-backend/internal/temporalx"
)

type Clients struct {
	OpenAI openai.Client

	// Optional; nil when not configured.
	JobBus   redis.JobBus
	Neo4j    *neo4jdb.Client
	Temporal temporalsdkclient.Client
}

func wireClients(log *logger.Logger, cfg config.Config) (Clients, error) {
	log.Info("Wiring clients...")

	openaiClient, err := openai.NewClient(log, cfg.OpenAI)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Redis
	var bus redis.JobBus
	if cfg.Redis.Addr != "" {
		b, err := redis.NewJobBus(log, cfg.Redis)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis job bus: %w", err)
		}
		bus = b
	}

	// Neo4j mirror is best-effort; a bad connection disables it.
	graph, err := neo4jdb.New(log, cfg.Neo4j)
	if err != nil {
		log.Warn("Neo4j unavailable; graph mirror disabled (continuing)", "error", err)
		graph = nil
	}

	// Temporal
	tc, err := temporalx.NewClient(log, cfg.Temporal)
	if err != nil {
		if bus != nil {
			_ = bus.Close()
		}
		if graph != nil {
			_ = graph.Close(context.Background())
		}
		return Clients{}, fmt.Errorf("init temporal client: %w", err)
	}

	return Clients{
		OpenAI:   openaiClient,
		JobBus:   bus,
		Neo4j:    graph,
		Temporal: tc,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Neo4j.Close(ctx)
		cancel()
	}
	if c.JobBus != nil {
		_ = c.JobBus.Close()
	}
}
