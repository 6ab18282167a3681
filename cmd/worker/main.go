package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/judge/internal/bus"
	"github.com/your-org/judge/internal/config"
	"github.com/your-org/judge/internal/matching"
	"github.com/your-org/judge/internal/observability"
	"github.com/your-org/judge/internal/queue"
	"github.com/your-org/judge/internal/storage"
	"github.com/your-org/judge/internal/tracking"
	"github.com/your-org/judge/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting judge worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
		"store", cfg.Database.Driver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	models, err := vision.LoadModels(cfg.Vision)
	if err != nil {
		slog.Error("load vision models", "error", err)
		os.Exit(1)
	}
	defer models.Close()

	uow, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	events := bus.New()
	events.Subscribe(queue.NewEventForwarder(producer).Handle)

	service := tracking.NewService(
		uow,
		events,
		matching.NewBodyMatcher(cfg.Tracking.BodyMatchThreshold),
		matching.NewRecognizer(cfg.Tracking.Recognizer()),
		cfg.Tracking.Policy(),
	)
	restored, err := service.Restore(ctx)
	if err != nil {
		slog.Error("restore tracked visitors", "error", err)
		os.Exit(1)
	}
	slog.Info("tracking service ready", "restored", restored)

	sweeper := tracking.NewSweeper(service, cfg.Tracking.SweepInterval)
	go sweeper.Run(ctx)

	pipeline := vision.NewPipeline(minioStore, models.Faces, models.Bodies, service)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeFrames(ctx, "vision-workers", func(ctx context.Context, msg jetstream.Msg) error {
		return pipeline.HandleTask(ctx, msg.Data())
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()

	// in-flight frames and the current sweep finish before the store closes
	consumer.Wait()
	<-sweeper.Done()
	slog.Info("worker stopped", "tracked", service.Tracked())
}

// openStore returns the tracking unit of work selected by cfg.Driver and a
// function releasing it.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (tracking.UnitOfWork, func(), error) {
	if cfg.Driver == config.DriverMemory {
		slog.Warn("using in-memory store; visitors are lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	db, err := storage.NewPostgresStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return db, db.Close, nil
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
