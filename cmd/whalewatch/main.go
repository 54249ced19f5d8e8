package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/ndrandal/whalewatch/internal/archive"
	"github.com/ndrandal/whalewatch/internal/config"
	"github.com/ndrandal/whalewatch/internal/delivery"
	"github.com/ndrandal/whalewatch/internal/filterset"
	"github.com/ndrandal/whalewatch/internal/httpapi"
	"github.com/ndrandal/whalewatch/internal/metacache"
	"github.com/ndrandal/whalewatch/internal/ops"
	"github.com/ndrandal/whalewatch/internal/orchestrator"
	"github.com/ndrandal/whalewatch/internal/store"
	"github.com/ndrandal/whalewatch/internal/taxonomy"
	"github.com/ndrandal/whalewatch/internal/upstream"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Println("whalewatch starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	st, err := store.New(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer st.Close(context.Background())

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	upstreamClient := upstream.New(
		cfg.TradeFeedBaseURL,
		cfg.MarketServiceBaseURL,
		cfg.TaxonomyServiceBaseURL,
		cfg.ChatAPIBaseURL,
		cfg.ChatBotToken,
	)

	taxLoader := taxonomy.New(st, upstreamClient, cfg.TaxonomyTTL)
	meta := metacache.New(st, upstreamClient, taxLoader, cfg.MarketTTL)
	filters := filterset.New(st, cfg.FilterReloadInterval)

	opsManager := ops.NewManager(64)
	queue := delivery.New(st, upstreamClient, opsManager, cfg.DeliveryQueueCapacity)
	orch := orchestrator.New(st, upstreamClient, filters, meta, queue,
		cfg.PollInterval, cfg.MaxTradesPerPoll, cfg.GlobalMinNotionalUSD, cfg.SeenHashTTL, opsManager)

	var s3Client *s3.Client
	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		s3Client = s3.NewFromConfig(awsCfg)
	}
	archiver := archive.New(st.DB(), s3Client, cfg.S3Bucket, cfg.S3Prefix, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours)

	mux := http.NewServeMux()
	mux.HandleFunc("/ops", ops.Handler(opsManager))
	httpapi.NewServer(st, queue, opsManager).Register(mux)

	addr := fmt.Sprintf(":%d", cfg.AdminPort)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		queue.Run(gctx, cfg.ShutdownGrace)
		return nil
	})
	g.Go(func() error {
		archiver.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Printf("admin server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("whalewatch exited with error: %v", err)
		os.Exit(1)
	}

	log.Println("whalewatch stopped")
}
