package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/match9393/ContextForge/config"
	"github.com/match9393/ContextForge/internal/answer"
	"github.com/match9393/ContextForge/internal/crawl"
	"github.com/match9393/ContextForge/internal/index"
	"github.com/match9393/ContextForge/internal/ingest"
	"github.com/match9393/ContextForge/internal/policy"
	openai_provider "github.com/match9393/ContextForge/internal/provider/openai"
	"github.com/match9393/ContextForge/internal/retrieval"
	"github.com/match9393/ContextForge/internal/service"
	"github.com/match9393/ContextForge/internal/storage"
	"github.com/match9393/ContextForge/internal/store"
	"github.com/match9393/ContextForge/internal/webfetch"
)

// Run wires every dependency and serves the HTTP API until the process
// exits.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", headerUserEmail, headerUserName},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			if err := http.ListenAndServe(addr, mux); err != nil {
				baseLogger.Printf("metrics listener on %s stopped: %v", addr, err)
			}
		}()
	}

	ctx := context.Background()

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	objects, err := storage.NewMinioStore(cfg.Storage.S3.Endpoint, cfg.Storage.S3.AccessKeyID,
		cfg.Storage.S3.SecretAccessKey, cfg.Storage.S3.Region, cfg.Storage.S3.UseSSL)
	if err != nil {
		return err
	}
	for _, bucket := range []string{cfg.Storage.S3.DocumentsBucket, cfg.Storage.S3.AssetsBucket} {
		if err := objects.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}

	keywords, err := index.Open(cfg.Storage.Index.Path)
	if err != nil {
		return fmt.Errorf("open keyword index: %w", err)
	}

	llm := openai_provider.NewClient(cfg.LLM.APIKey, cfg.LLM.EmbeddingModel, cfg.LLM.VisionModel, cfg.LLM.ImageModel, cfg.LLM.Timeout)

	if cfg.Ingest.CaptioningEnabled {
		if err := visionHealthCheck(cfg); err != nil {
			return err
		}
	}

	gate := policy.NewHostGate(nil)
	var fetcher webfetch.Fetcher
	if cfg.Crawl.RenderedFetcher {
		fetcher = webfetch.NewRenderedFetcher(gate, cfg.Crawl.FetchTimeout, cfg.Crawl.UserAgent)
	} else {
		fetcher = webfetch.NewHTTPFetcher(gate, cfg.Crawl.FetchTimeout, cfg.Crawl.UserAgent)
	}

	pdf := ingest.NewPopplerExtractor(cfg.Ingest.PdfToTextBin, cfg.Ingest.PdfImagesBin)
	locks := &ingest.RedisLocker{Client: rdb}
	coordinator := ingest.NewCoordinator(cfg, st, objects, keywords, llm, llm, fetcher, pdf, locks, nil)

	var robots crawl.RobotsPolicy
	if cfg.Crawl.RespectRobots {
		robots = crawl.NewRobotsCache(cfg.Crawl.FetchTimeout, cfg.Crawl.UserAgent)
	}
	crawler := crawl.NewManager(cfg, st, coordinator, robots, nil)

	planner := retrieval.NewPlanner(llm, cfg.LLM.PlannerModel, nil)
	executor := retrieval.NewExecutor(cfg.Retrieval, st, llm, planner, keywords, nil)
	assembler := retrieval.NewAssembler(cfg.Retrieval, st, nil)
	classifier := retrieval.NewClassifier(llm, cfg.LLM.JudgeModel, nil)

	synthesizer, err := answer.NewSynthesizer(cfg.Answer, cfg.LLM, llm, llm, objects, cfg.Storage.S3.AssetsBucket, nil)
	if err != nil {
		return err
	}
	asks := service.NewAskService(cfg.LLM, st, executor, assembler, classifier, synthesizer, nil)

	api := e.Group("/api/v1")
	ih := &IngestHandler{Coordinator: coordinator, Crawler: crawler, MaxUploadBytes: cfg.Crawl.MaxFetchBytes}
	ih.Register(api)
	ah := &AskHandler{Asks: asks}
	ah.Register(api)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// visionHealthCheck fails startup when captioning is enabled without a
// usable vision configuration, instead of failing per request later.
func visionHealthCheck(cfg *config.Config) error {
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("captioning enabled but llm.api_key is not set")
	}
	if cfg.LLM.VisionModel == "" {
		return fmt.Errorf("captioning enabled but llm.vision_model is not set")
	}
	return nil
}
