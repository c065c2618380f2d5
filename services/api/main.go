package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academy/internal/chat"
	"github.com/academy/internal/config"
	"github.com/academy/internal/conversation"
	"github.com/academy/internal/handler"
	"github.com/academy/internal/logger"
	"github.com/academy/internal/middleware"
	"github.com/academy/internal/model"
	"github.com/academy/internal/presence"
	"github.com/academy/internal/push"
	"github.com/academy/internal/repository"
	"github.com/academy/internal/roster"
	"github.com/academy/internal/startup"
	"github.com/academy/internal/storage"
	"github.com/academy/internal/storage/memory"
	"github.com/academy/internal/unread"
	"github.com/academy/internal/ws"
	"github.com/academy/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory sessions (no external services required)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)

	// Presence left over from a crash must not survive a restart.
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := userRepo.ResetAllOnline(resetCtx); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	// Sessions: Redis in normal operation, in-memory for -dev.
	var sessions storage.SessionStore
	notifier := push.NewNotifier(nil, nil)
	if *dev {
		sessions = memory.New()
		logger.Info("dev mode: in-memory sessions, push disabled")
	} else {
		redisClient := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer redisClient.Close()
		sessions = redisClient
		keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
		if err != nil {
			logger.Errorf("VAPID keys unavailable, push disabled: %v", err)
		}
		notifier = push.NewNotifier(redisClient.Raw(), keys)
	}

	clock := chat.NewMonotonicClock()
	store := chat.NewStore(msgRepo, convRepo, clock)
	views := chat.NewActiveViews()
	admins := chat.NewAdminResolver(userRepo)
	counter := unread.NewCounter(userRepo, views, admins)
	store.OnAppend(counter.OnMessageAppended)
	store.OnAppend(pushObserver(notifier, userRepo, views))

	tracker := presence.NewTracker(userRepo)
	rosterSvc := roster.New(userRepo)
	hub := ws.NewHub(tracker, cfg.MaxWSConnections)
	tracker.OnChange(func(userID string, online bool) {
		hub.BroadcastStatus(userID, online)
		rosterSvc.Invalidate()
	})
	counter.OnChange(func(string) { rosterSvc.Invalidate() })

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup
	bgWg.Add(2)
	go func() {
		defer bgWg.Done()
		hub.Run(bgCtx)
	}()
	go func() {
		defer bgWg.Done()
		rosterSvc.Run(bgCtx)
	}()

	sessionH := handler.NewSessionHandler(userRepo, sessions, tracker)
	userH := handler.NewUserHandler(userRepo, rosterSvc)
	msgH := handler.NewMessageHandler(store)
	fileH := handler.NewFileHandler(cfg.UploadDir, cfg.MaxUploadSize)
	pushH := handler.NewPushHandler(notifier)
	configH := handler.NewConfigHandler(notifier)
	wsH := handler.NewWSHandler(hub, store, convRepo, counter, views, rosterSvc, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket upgrades: the wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", configH.GetPushConfig)
	r.Get("/api/files/{filename}", fileH.Serve)

	// Internal surface for the platform's identity service.
	r.With(middleware.InternalOnly).Post("/internal/sessions", sessionH.Register)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))
		r.Delete("/api/session", sessionH.Logout)
		r.Get("/api/users/me", userH.GetProfile)
		r.Get("/api/users/{id}", userH.GetUser)
		r.Get("/api/roster", userH.GetRoster)
		r.Get("/api/conversations/{id}/messages", msgH.ListMessages)
		r.Post("/api/files/upload", fileH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	bgCancel()
	bgWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// pushObserver delivers a Web Push to the recipient of a freshly appended
// message unless they are looking at the conversation right now.
func pushObserver(notifier *push.Notifier, users *repository.UserRepository, views *chat.ActiveViews) func(model.Message) {
	return func(m model.Message) {
		recipient, ok := conversation.Other(m.ConversationID, m.SenderID)
		if !ok {
			return
		}
		if views.IsViewing(recipient, m.ConversationID) {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			title := "New message"
			if sender, err := users.GetByID(ctx, m.SenderID); err == nil && sender.Username != "" {
				title = sender.Username
			}
			body := m.Text
			if body == "" {
				body = "Attachment"
			}
			if len(body) > 120 {
				body = body[:117] + "..."
			}
			data := map[string]string{"conversation_id": m.ConversationID, "message_id": m.ID}
			notifier.Notify(ctx, recipient, title, body, data)
		}()
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := fs.ReadDir(migrations.Files, ".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "academy"
		password = "academy_secret"
		database = "academy"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
