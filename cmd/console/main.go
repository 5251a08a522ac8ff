package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/h-takeyama/riskwatch/internal/config"
	"github.com/h-takeyama/riskwatch/internal/console"
	"github.com/h-takeyama/riskwatch/internal/decode"
	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/internal/media"
	"github.com/h-takeyama/riskwatch/internal/metrics"
	"github.com/h-takeyama/riskwatch/internal/recorder"
	"github.com/h-takeyama/riskwatch/internal/source"
	"github.com/h-takeyama/riskwatch/internal/whep"
)

func main() {
	cfg := config.New()

	// Flags override environment configuration.
	httpAddr := flag.String("http", cfg.HTTPAddr, "HTTP server address")
	metricsAddr := flag.String("metrics", cfg.MetricsAddr, "Metrics server address")
	pprofAddr := flag.String("pprof", cfg.PprofAddr, "pprof server address (empty disables)")
	sourceKind := flag.String("source", cfg.SourceKind, "Media source (whep, device)")
	gatewayURL := flag.String("gateway", cfg.GatewayURL, "WHEP gateway endpoint URL")
	deviceID := flag.String("device", cfg.DeviceID, "Capture device ID (empty picks first)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	logColor := flag.Bool("log-color", cfg.LogColor, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Safety monitoring console starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	met := metrics.New()

	// Media source strategy
	var src source.Source
	switch *sourceKind {
	case "whep":
		negCfg := whep.DefaultConfig()
		negCfg.STUNServers = cfg.STUNServers
		negCfg.Timeout = cfg.NegotiateTimeout
		negCfg.UnitBuffer = cfg.UnitBuffer
		src = source.NewWHEP(whep.NewNegotiator(negCfg), *gatewayURL)
	case "device":
		src = source.NewDevice(*deviceID, 0, 0)
	default:
		log.Fatalf("Unknown source kind %q", *sourceKind)
	}

	// Keyframe decoder; the console still serves controls and the gallery
	// without it, preview just stays on the placeholder.
	var dec decode.Decoder
	if ffmpeg, err := decode.NewFFmpeg(); err != nil {
		logger.Warn("Main", "Keyframe decoding unavailable: %v", err)
	} else {
		dec = ffmpeg
	}

	pipeCfg := media.DefaultConfig()
	pipeCfg.StopOnSourceLoss = cfg.StopOnSourceLoss
	pipeCfg.ThumbnailWidth = cfg.ThumbnailWidth
	pipeCfg.Recorder = recorder.Config{ChunkInterval: cfg.ChunkInterval}

	pipeline, err := media.New(pipeCfg, src, dec, met)
	if err != nil {
		log.Fatalf("Failed to build media pipeline: %v", err)
	}

	gallery := console.NewGallery(cfg.MaxArtifacts, met)
	pipeline.OnForcedStop(gallery.Add)

	feed := console.NewFeed(cfg.DetectionInterval, cfg.DetectionHistory)
	pipeline.SetOverlaySource(feed.Latest)
	go feed.Run(ctx)

	srv := console.NewServer(console.DefaultConfig(), pipeline, gallery, feed, met)
	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: srv.Handler(),
	}

	if *pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
		if err := met.StartServer(*metricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	if err := pipeline.Start(ctx); err != nil {
		log.Fatalf("Failed to start media pipeline: %v", err)
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	logger.Info("Main", "Console started (source=%s)", src.Name())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	if err := pipeline.Close(); err != nil {
		logger.Warn("Main", "Pipeline close error: %v", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown error: %v", err)
	}

	log.Println("Console stopped")
}
