package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	dialogagent "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/dialog"
	inventoryagent "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/inventory"
	orchestratorx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/orchestrator"
	styleagent "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/style"
	transactionagent "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/transaction"
	trendagent "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/trend"
	visionagent "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/vision"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/catalog"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/history"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/llm"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/prompt"
	routingx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/routing"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/webhook"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/worker"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/broker"
	configx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/config"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/database"
	_ "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/openrouter"
	qstashx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/qstash"
	redisx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/redis"
)

type AppConfig struct {
	AutoMigrate   bool          `envconfig:"AUTO_MIGRATE" default:"true"`
	RunWorker     bool          `envconfig:"RUN_WORKER" default:"true"`
	ResultChannel string        `envconfig:"RESULT_CHANNEL" default:"pipeline_results"`
	TranscriptTTL time.Duration `envconfig:"TRANSCRIPT_TTL" default:"168h"`
	// QStash destination that also receives every run result. Empty disables forwarding.
	ResultForwardURL string        `envconfig:"RESULT_FORWARD_URL"`
	TrendCacheTTL    time.Duration `envconfig:"TREND_CACHE_TTL" default:"1h"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("retail pipeline stopped")
	}
	log.Info().Msg("retail pipeline shut down")
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llm.Config]("OPENROUTER")
	dbCfg := configx.MustNew[database.Config]("DATABASE")
	redisCfg := configx.MustNew[redisx.Config]("REDIS")
	pipelineCfg := configx.MustNew[orchestratorx.Config]("PIPELINE")
	httpCfg := configx.MustNew[webhook.Config]("WEBHOOK")
	workerCfg := configx.MustNew[worker.Config]("WORKER")

	db, err := database.Open(ctx, *dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := catalog.NewStore(db)
	if appCfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate catalog: %w", err)
		}
	}

	redisClient, err := redisx.NewClient(ctx, *redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	histories := history.NewRedisStore(redisClient,
		history.WithLimit(redisCfg.HistoryLimit),
		history.WithTTL(redisCfg.HistoryTTL),
		history.WithKeyPrefix(redisCfg.KeyPrefix+"history:"),
	)
	bus := broker.New(redisClient, broker.WithChannelPrefix(redisCfg.KeyPrefix))

	// QStash and the Upstash transcript store are optional integrations.
	var qstashClient *qstashx.Client
	if qstashCfg, err := configx.New[qstashx.Config]("QSTASH"); err != nil {
		log.Warn().Err(err).Msg("qstash disabled")
	} else if qstashClient, err = qstashx.NewClient(*qstashCfg); err != nil {
		return err
	}

	orchOpts := []orchestratorx.Option{}
	serverOpts := []webhook.Option{}
	if upstashCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS"); err != nil {
		log.Warn().Err(err).Msg("transcript store disabled")
	} else {
		transcripts, err := statex.NewUpstashRedisStore(*upstashCfg, statex.WithTTL(appCfg.TranscriptTTL))
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestratorx.WithTranscriptStore(transcripts))
		serverOpts = append(serverOpts, webhook.WithTranscripts(transcripts))
	}

	var resultPublisher contractx.Publisher = bus
	if appCfg.ResultForwardURL != "" {
		if qstashClient == nil {
			return errors.New("RESULT_FORWARD_URL needs the QSTASH_* settings")
		}
		resultPublisher = broker.Fanout(bus, qstashClient.Forwarder(appCfg.ResultForwardURL))
	}
	orchOpts = append(orchOpts, orchestratorx.WithPublisher(resultPublisher, appCfg.ResultChannel))

	prompts := prompt.LoadPromptSet()

	dialogCfg := llmCfg.OpenRouterFor(contractx.StageDialog)
	dialogModel, err := dialogCfg.New(ctx)
	if err != nil {
		return fmt.Errorf("dialog model: %w", err)
	}
	visionCfg := llmCfg.OpenRouterFor(contractx.StageVision)
	visionClient, err := openrouterx.NewClient(visionCfg)
	if err != nil {
		return fmt.Errorf("vision client: %w", err)
	}
	describer := visionagent.NewOpenAIDescriber(visionClient, visionCfg.Model, prompts.Vision, *visionCfg.MaxCompletionToken, visionCfg.Temperature)

	registry, err := orchestratorx.NewRegistry(map[contractx.Stage]contractx.Agent{
		contractx.StageDialog:      dialogagent.New(dialogModel, prompts.Dialog, histories),
		contractx.StageVision:      visionagent.New(describer),
		contractx.StageInventory:   inventoryagent.New(store),
		contractx.StageTransaction: transactionagent.New(store),
	})
	if err != nil {
		return err
	}
	// A stage that fails here is retried on first use and falls back meanwhile.
	for stage, err := range registry.Warmup(ctx) {
		log.Error().Err(err).Str("stage", stage.String()).Msg("agent warmup failed")
	}

	table := routingx.DefaultTable()
	if pipelineCfg.RoutingFile != "" {
		if table, err = routingx.LoadTable(pipelineCfg.RoutingFile); err != nil {
			return fmt.Errorf("load routing table: %w", err)
		}
	}

	orch, err := orchestratorx.New(registry, table, *pipelineCfg, orchOpts...)
	if err != nil {
		return err
	}

	if qstashClient != nil {
		serverOpts = append(serverOpts, webhook.WithVerifier(qstashClient))
	}
	server := webhook.New(orch, *httpCfg, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if appCfg.RunWorker {
		trends := trendagent.New(store, trendagent.WithCache(redisClient, redisCfg.KeyPrefix, appCfg.TrendCacheTTL))
		w := worker.New(orch, bus, bus, *workerCfg,
			worker.WithService(trendagent.ServiceName, trends),
			worker.WithService(styleagent.ServiceName, styleagent.New(store)),
		)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	log.Info().
		Str("addr", httpCfg.Addr).
		Bool("worker", appCfg.RunWorker).
		Bool("qstash", qstashClient != nil).
		Msg("retail pipeline started")

	return g.Wait()
}
