package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"followup/internal/catalog"
	"followup/internal/config"
	"followup/internal/handlers"
	"followup/internal/notify"
	"followup/internal/queue"
	"followup/internal/scheduler"
	"followup/internal/storage"
	"followup/internal/tracker"
)

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapLogger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalw("Failed to load configuration", "error", err)
	}

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		cat, err = catalog.Load(cfg.CatalogFile)
		if err != nil {
			logger.Fatalw("Failed to load reminder catalog", "file", cfg.CatalogFile, "error", err)
		}
		logger.Infow("Loaded reminder catalog", "file", cfg.CatalogFile, "reminders", cat.Len())
	}

	var store storage.Store
	if cfg.RedisURL == "" {
		logger.Warnw("REDIS_URL not set, using in-memory store; reminders will not survive restarts")
		store = storage.NewMemoryStorage()
	} else {
		store, err = storage.NewRedisStorage(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatalw("Failed to connect to Redis", "error", err)
		}
	}

	queueManager, err := queue.NewManager(cfg.QueueURL, logger)
	if err != nil {
		logger.Fatalw("Failed to create RabbitMQ manager", "error", err)
	}
	defer queueManager.Close()

	if cfg.LineChannelToken == "" {
		logger.Warnw("LINE_CHANNEL_ACCESS_TOKEN not set, reminder sends will fail")
	}
	if cfg.StaffGroupID == "" {
		logger.Warnw("STAFF_GROUP_ID not set, staff escalations are disabled")
	}

	line := notify.NewLineClient(cfg.LineAPIURL, cfg.LineChannelToken, logger)
	escalator := notify.NewEscalator(line, cfg.StaffGroupID, cfg.NoResponseThresholdHours)

	sched := scheduler.New(store, queueManager, cat, cfg.Location, cfg.DispatchHour, logger)
	dispatcher := scheduler.NewDispatcher(store, cat, line, cfg.DispatchMaxAttempts, logger)
	sweeper := scheduler.NewSweeper(store, escalator, cfg.NoResponseThreshold(), cfg.SweepSpec, cfg.Location, logger)
	trk := tracker.New(store, escalator, cfg.Keywords(), logger)

	ctx := context.Background()

	if err := queueManager.StartConsumer(ctx, dispatcher.HandleDelivery); err != nil {
		logger.Fatalw("Failed to start dispatch consumer", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		logger.Fatalw("Failed to start scheduler", "error", err)
	}
	if err := sweeper.Start(); err != nil {
		logger.Fatalw("Failed to start no-response sweep", "error", err)
	}

	handler := handlers.NewReminderHandler(store, sched, trk, cfg.Location, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Post("/discharges", handler.CreateDischarge)
		r.Post("/responses", handler.CreateResponse)
		r.Get("/reminders/{userID}/summary", handler.GetSummary)
		r.Delete("/reminders/{userID}/{reminderType}", handler.CancelReminder)
		r.Get("/jobs", handler.ListJobs)
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		schedules, err := store.GetAllSchedules(r.Context())
		if err != nil {
			http.Error(w, "Failed to get metrics", http.StatusInternalServerError)
			return
		}
		events, err := store.GetAllEvents(r.Context())
		if err != nil {
			http.Error(w, "Failed to get metrics", http.StatusInternalServerError)
			return
		}

		stats := map[string]int{
			"total":       len(schedules),
			"scheduled":   0,
			"sent":        0,
			"responded":   0,
			"no_response": 0,
			"events":      len(events),
			"armed_jobs":  sched.Armed(),
		}
		for _, row := range schedules {
			stats[string(row.Status)]++
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infow("Server starting", "port", cfg.Port, "timezone", cfg.Timezone)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("Server failed", "error", err)
		}
	}()

	<-stop
	logger.Infow("Shutting down")

	sweeper.Stop()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("Server shutdown failed", "error", err)
	}
}
