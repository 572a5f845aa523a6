package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"respira-triage/internal/config"
	"respira-triage/internal/doctor"
	"respira-triage/internal/episode"
	"respira-triage/internal/followup"
	"respira-triage/internal/nlu"
	"respira-triage/internal/platform/blob"
	"respira-triage/internal/platform/logger"
	"respira-triage/internal/platform/telegram"
	"respira-triage/internal/report"
	"respira-triage/internal/vision"
)

func main() {
	cfg, err := config.Load(os.Getenv("RESPIRA_CONFIG"))
	if err != nil {
		zap.NewExample().Fatal("configuration load failed", zap.Error(err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer log.Sync()

	db, err := connectDB(cfg.Database.URL, log)
	if err != nil {
		log.Fatal("database unreachable", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg.Database.MigrationsDir, cfg.Database.URL); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Clients.
	tgClient := telegram.NewClient(cfg.Telegram.Token)

	var extractorProvider nlu.Provider
	var imageAnalyzer episode.ImageAnalyzer
	if cfg.OpenAI.APIKey != "" {
		aiClient := openai.NewClient(cfg.OpenAI.APIKey)
		extractorProvider = nlu.NewOpenAIProvider(aiClient, cfg.OpenAI.ChatModel, cfg.OpenAI.Timeout)
		imageAnalyzer = vision.NewOpenAIAnalyzer(aiClient, cfg.OpenAI.VisionModel, cfg.OpenAI.Timeout)
	} else {
		log.Warn("openai api key missing, extraction runs on keyword rules only")
	}

	blobs, err := blob.NewStore(ctx, cfg.Storage.Bucket, cfg.Storage.SignedURLTTL)
	if err != nil {
		log.Fatal("object storage setup failed", zap.Error(err))
	}
	if !blobs.IsConfigured() {
		log.Warn("storage bucket not configured, image intake disabled")
	}

	// Repositories and services.
	users := episode.NewUserRepository(db)
	episodes := episode.NewEpisodeRepository(db)
	messages := episode.NewMessageRepository(db)
	symptoms := episode.NewSymptomRepository(db)
	images := episode.NewImageRepository(db)

	extractor := nlu.NewService(extractorProvider, log.Named("nlu"))

	episodeSvc := episode.NewService(
		users, episodes, messages, symptoms, images,
		extractor, imageAnalyzer, tgClient, tgClient, blobs,
		episode.Config{
			Alpha:                cfg.Alpha(),
			Thresholds:           cfg.SeverityThresholds(),
			ImageRequestCooldown: cfg.Triage.ImageRequestCooldown,
			DefaultCountryCode:   cfg.Triage.DefaultCountryCode,
			DoctorChatID:         cfg.Telegram.DoctorChatID,
		},
		log.Named("episode"),
	)

	reportSvc := report.NewService(tgClient, cfg.Telegram.DoctorChatID, "", log.Named("report"))
	followupSvc := followup.NewService(followup.NewRepository(db), cfg.Triage.FollowUpDays, log.Named("followup"))
	doctorSvc := doctor.NewService(db, episodes, users, tgClient, reportSvc,
		doctor.Config{
			Alpha:        cfg.Alpha(),
			Thresholds:   cfg.SeverityThresholds(),
			FollowUpDays: cfg.Triage.FollowUpDays,
		},
		log.Named("doctor"),
	)

	// Router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","db":"down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Route("/api", func(r chi.Router) {
		episode.NewHandler(episodeSvc, log.Named("http")).Routes(r)
		doctor.NewHandler(doctorSvc, followupSvc, log.Named("http")).Routes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", zap.Error(err))
	}
}

func connectDB(url string, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	for attempt := 1; attempt <= 10; attempt++ {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		log.Info("waiting for database", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return nil, err
}

func runMigrations(dir, url string) error {
	m, err := migrate.New("file://"+dir, url)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
