package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/mongoclaw/pkg/agentstore"
	"github.com/codeready-toolchain/mongoclaw/pkg/aiprovider"
	"github.com/codeready-toolchain/mongoclaw/pkg/config"
	"github.com/codeready-toolchain/mongoclaw/pkg/dispatcher"
	"github.com/codeready-toolchain/mongoclaw/pkg/election"
	"github.com/codeready-toolchain/mongoclaw/pkg/executor"
	"github.com/codeready-toolchain/mongoclaw/pkg/idgen"
	"github.com/codeready-toolchain/mongoclaw/pkg/matcher"
	"github.com/codeready-toolchain/mongoclaw/pkg/metrics"
	"github.com/codeready-toolchain/mongoclaw/pkg/promptrender"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue/consumergroup"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue/dlq"
	"github.com/codeready-toolchain/mongoclaw/pkg/queue/redisqueue"
	"github.com/codeready-toolchain/mongoclaw/pkg/resumetoken"
	"github.com/codeready-toolchain/mongoclaw/pkg/watcher"
	"github.com/codeready-toolchain/mongoclaw/pkg/worker"
)

// Collection names for the runtime's own bookkeeping data, distinct from
// whatever application collections agents watch.
const (
	agentsCollectionName       = "mongoclaw_agents"
	resumeTokensCollectionName = "mongoclaw_resume_tokens"
	electionCollectionName     = "mongoclaw_leases"
)

// app bundles every long-lived component the run/migrate-indexes
// subcommands need, assembled once from config.Config.
type app struct {
	cfg *config.Config

	mongoClient *mongo.Client

	agentStore  *agentstore.Store
	cache       *agentstore.Cache
	resumeStore *resumetoken.Store
	elector     *election.Elector

	queue       *redisqueue.Queue
	consumers   *consumergroup.Manager
	deadLetters *dlq.DLQ

	dispatcher *dispatcher.Dispatcher
	pool       *worker.Pool
	supervisor *watcher.Supervisor

	collectors *metrics.Collectors
}

// loadConfig reads the .env file under configDir and assembles config.Config.
func loadConfig(dir string) (*config.Config, error) {
	envPath := filepath.Join(dir, ".env")
	return config.Load(envPath)
}

// connectMongo dials the Mongo cluster named in cfg, grounded on the
// teacher's database.NewClient dial-then-ping idiom.
func connectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

// newApp connects every backing store and wires the full dependency graph,
// without starting any background loop. Callers decide whether to Start
// (run) or only EnsureIndexes (migrate-indexes).
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	client, err := connectMongo(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}

	db := client.Database(cfg.Mongo.Database)
	agentsColl := db.Collection(agentsCollectionName)
	resumeColl := db.Collection(resumeTokensCollectionName)
	electionColl := db.Collection(electionCollectionName)

	agentStore := agentstore.New(agentsColl)
	cache := agentstore.NewCache(agentStore, agentsColl, cfg.Worker.StreamDiscoveryInterval)
	resumeStore := resumetoken.New(resumeColl)

	m := matcher.New(cache)

	collectors := metrics.New()

	q := redisqueue.New(redisqueue.Config{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		PoolSize:        cfg.Redis.PoolSize,
		MaxStreamLength: cfg.Redis.MaxStreamLength,
	})

	capacity := int(cfg.Redis.MaxStreamLength)
	disp := dispatcher.New(q, cfg.Dispatcher, capacity, idgen.NewWorkItemID)
	disp.Metrics = collectors

	deadLetters := dlq.New(q, q, dlq.DefaultStream, dlq.DefaultRetentionDays)

	// groupName left empty so it defaults to the same "mongoclaw-workers"
	// group worker.Pool joins internally (see worker.defaultConsumerGroup).
	consumers := consumergroup.New(q, "", cfg.Redis.ConsumerName,
		cfg.Worker.OrphanScanInterval, cfg.Redis.ClaimMinIdle)
	consumers.Metrics = collectors

	ai := aiprovider.NewErrorClassifying(aiprovider.NewStubProvider(cfg.AI.DefaultModel))
	renderer := promptrender.NewRenderer(0)
	docStore := executor.NewMongoDocumentStore(client)
	idempotencyColl := db.Collection("mongoclaw_idempotency")
	executionRecordColl := db.Collection("mongoclaw_executions")
	idempotencyStore := executor.NewMongoIdempotencyStore(idempotencyColl)
	executionRecords := executor.NewMongoExecutionRecordStore(executionRecordColl)

	exec := executor.New(cache, ai, renderer, docStore, idempotencyStore, executionRecords)
	exec.Metrics = collectors

	pool := worker.New(cfg.Redis.ConsumerName, q, cache, exec, cfg.Dispatcher, cfg.Worker)
	pool.Metrics = collectors

	sup := watcher.New(client, agentStore, m, disp, resumeStore, cfg.Watcher)
	cache.OnChange = sup.ForceRefresh

	elector := election.New(electionColl, cfg.Election.HolderID, cfg.Election.LeaseDuration,
		cfg.Election.RenewInterval, election.Callbacks{
			OnElected: sup.Start,
			OnDemoted: func(context.Context) { sup.Stop() },
		})

	return &app{
		cfg:         cfg,
		mongoClient: client,
		agentStore:  agentStore,
		cache:       cache,
		resumeStore: resumeStore,
		elector:     elector,
		queue:       q,
		consumers:   consumers,
		deadLetters: deadLetters,
		dispatcher:  disp,
		pool:        pool,
		supervisor:  sup,
		collectors:  collectors,
	}, nil
}

// ensureIndexes creates every index the runtime's bookkeeping collections
// need, matching each store's own EnsureIndexes method.
func (a *app) ensureIndexes(ctx context.Context) error {
	if err := a.agentStore.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring agent store indexes: %w", err)
	}
	if err := a.elector.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring election indexes: %w", err)
	}
	return nil
}

// closeTimeout bounds how long graceful shutdown waits for in-flight work.
const closeTimeout = 30 * time.Second
