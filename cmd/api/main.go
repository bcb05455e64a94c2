package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/blessings/internal/api"
	"github.com/bobarin/blessings/internal/config"
	"github.com/bobarin/blessings/internal/events"
	"github.com/bobarin/blessings/internal/narration"
	"github.com/bobarin/blessings/internal/queue"
	"github.com/bobarin/blessings/internal/services"
	"github.com/bobarin/blessings/internal/storage"
	"github.com/bobarin/blessings/internal/store"
	"github.com/bobarin/blessings/internal/worker"
	"github.com/go-redis/redis/v8"
)

func main() {
	log.Println("Starting Blessings API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	for _, dir := range []string{cfg.UploadsDir, cfg.OutputDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	// Render queue (optional); its connection also backs a Redis job store
	var (
		q      *queue.Queue
		shared *redis.Client
	)
	if cfg.QueueEnabled {
		q, err = queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		shared = q.Client()
		log.Println("Connected to Redis queue")
	}

	// Job store
	jobs, err := store.New(cfg, shared)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer jobs.Close()
	log.Printf("Job store: %s", cfg.StoreBackend)

	// Providers
	runner := services.ExecRunner{}
	media := services.NewMediaService(runner, services.MediaConfig{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		ProbeTimeout:   cfg.ProbeTimeout,
		ExtractTimeout: cfg.ExtractTimeout,
	})
	renderer := services.NewRemotionRenderer(runner, services.RendererConfig{
		Command:     cfg.RenderCommand,
		Composition: cfg.RenderComposition,
		WorkDir:     cfg.RenderWorkDir,
		TempDir:     cfg.TempDir,
		Timeout:     cfg.RenderTimeout,
	})
	voice := services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsBaseURL, cfg.ElevenLabsModel)
	if voice.Configured() {
		log.Printf("Voice provider: ElevenLabs (model: %s)", cfg.ElevenLabsModel)
	} else {
		log.Println("WARNING: ELEVENLABS_API_KEY not set, videos are rendered without voiceover")
	}

	gen, err := narration.NewGenerator(selectLLM(cfg))
	if err != nil {
		log.Fatalf("Failed to load narration catalogs: %v", err)
	}

	paths := worker.Paths{
		PublicDir:  cfg.PublicDir,
		UploadsDir: cfg.UploadsDir,
		OutputDir:  cfg.OutputDir,
		TempDir:    cfg.TempDir,
	}

	procCfg := worker.ProcessorConfig{
		Store:     jobs,
		Narration: gen,
		Voice:     voice,
		Media:     media,
		Renderer:  renderer,
		Paths:     paths,
	}

	// Optional output storage
	if cfg.StorageEnabled() {
		procCfg.Publisher = storage.New(storage.Config{
			URL:        cfg.SupabaseURL,
			ServiceKey: cfg.SupabaseServiceKey,
			Bucket:     cfg.SupabaseStorageBucket,
			Prefix:     cfg.SupabaseStoragePrefix,
		})
		log.Printf("Publishing videos to Supabase bucket %s", cfg.SupabaseStorageBucket)
	}

	// Optional progress events
	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		procCfg.Events = pub
		log.Printf("Publishing progress events on %s.<batchId>", cfg.NATSSubjectPrefix)
	}

	processor := worker.NewProcessor(procCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dispatch: Redis queue when enabled, otherwise goroutines in this process.
	var (
		dispatcher worker.Dispatcher
		inline     *worker.InlineDispatcher
		workerDone = make(chan struct{})
	)
	if q != nil {
		dispatcher = q

		if cfg.WorkerEnabled {
			if n, err := q.Recover(ctx); err != nil {
				log.Printf("Warning: failed to recover interrupted batches: %v", err)
			} else if n > 0 {
				log.Printf("Requeued %d interrupted batches", n)
			}
			if waiting, err := q.Len(ctx); err == nil {
				log.Printf("%d batches waiting in queue", waiting)
			}
			log.Println("Worker enabled, starting background processing...")
			go func() {
				defer close(workerDone)
				worker.New(q, processor, cfg.QueueMaxAttempts).Start(ctx, cfg.MaxConcurrentJobs)
			}()
		} else {
			close(workerDone)
		}
	} else {
		inline = worker.NewInlineDispatcher(processor, cfg.MaxConcurrentJobs)
		dispatcher = inline
		close(workerDone)
		log.Printf("Rendering in-process (max %d concurrent batches)", cfg.MaxConcurrentJobs)
	}

	batches := worker.NewService(worker.ServiceConfig{
		Store:      jobs,
		Narration:  gen,
		Voice:      voice,
		Media:      media,
		Dispatcher: dispatcher,
		Paths:      paths,
	})

	sweeper := worker.NewSweeper(jobs, media, voice, cfg.JobExpiry, cfg.SweepInterval)
	go sweeper.Start(ctx)

	// Create API handler
	handler := api.NewHandler(batches, api.HandlerConfig{
		PublicDir:      cfg.PublicDir,
		UploadsDir:     cfg.UploadsDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxRecipients:  cfg.MaxRecipients,
		AllowedOrigins: api.ParseOrigins(cfg.CorsAllowedOrigins),
	})
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		OutputDir:          cfg.OutputDir,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop consuming; batches already running finish first.
	cancel()
	<-workerDone
	if inline != nil {
		inline.Wait()
	}
	sweeper.Wait()

	log.Println("Server exited")
}

// selectLLM picks the narration model. auto prefers Gemini, which can listen
// to the sender's recording, and falls back to OpenAI.
func selectLLM(cfg *config.Config) services.LLMService {
	gemini := func() services.LLMService {
		log.Printf("Narration LLM: Gemini (model: %s)", cfg.GeminiModel)
		return services.NewGeminiService(cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	}
	openai := func() services.LLMService {
		log.Printf("Narration LLM: OpenAI (model: %s)", cfg.OpenAIModel)
		if cfg.OpenAIBaseURL != "" {
			return services.NewOpenAIServiceWithBaseURL(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		}
		return services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAIModel)
	}

	switch cfg.LLMProvider {
	case config.LLMGemini:
		return gemini()
	case config.LLMOpenAI:
		return openai()
	case config.LLMNone:
	default:
		if cfg.GeminiKey != "" {
			return gemini()
		}
		if cfg.OpenAIKey != "" {
			return openai()
		}
	}
	log.Println("Narration LLM: none, using templates")
	return nil
}
