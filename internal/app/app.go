package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/consync/internal/config"
	httpcontroller "github.com/vadim/consync/internal/controller/http"
	"github.com/vadim/consync/internal/database"
	"github.com/vadim/consync/internal/domain/chat/dao"
	"github.com/vadim/consync/internal/domain/chat/entity"
	"github.com/vadim/consync/internal/domain/chat/scheduler"
	"github.com/vadim/consync/internal/domain/chat/service"
	"github.com/vadim/consync/internal/httpx/upstream/gateway"
	"github.com/vadim/consync/internal/storage"
	"github.com/vadim/consync/internal/transport/ws"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	transport *ws.Client
	engine    *service.Service
	pg        *pgxpool.Pool
	refresher *scheduler.Refresher
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initEngine(ctx); err != nil {
		return nil, fmt.Errorf("initializing chat engine: %w", err)
	}

	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Refresher.Enabled {
		app.refresher = scheduler.New(app.engine, cfg.Refresher.Interval, logger)
	}

	return app, nil
}

// initEngine wires the chat engine with its collaborators: the websocket
// transport, the backend history client, attachment storage and the
// snapshot database.
func (a *App) initEngine(ctx context.Context) error {
	self := entity.Participant{
		ID:        a.cfg.Session.UserID,
		Name:      a.cfg.Session.Name,
		AvatarURL: a.cfg.Session.AvatarURL,
		Role:      a.cfg.Session.Role,
	}

	a.transport = ws.New(a.cfg.Transport.URL, a.logger,
		ws.WithAuthToken(a.cfg.Session.AuthToken),
		ws.WithReconnectBackoff(a.cfg.Transport.ReconnectMin, a.cfg.Transport.ReconnectMax),
	)

	gatewayClient := gateway.New(self.ID,
		gateway.WithBaseURL(a.cfg.Gateway.BaseURL),
		gateway.WithAPIVersion(a.cfg.Gateway.APIVersion),
		gateway.WithHTTPClient(&http.Client{Timeout: a.cfg.Gateway.Timeout}),
		gateway.WithAuthToken(a.cfg.Session.AuthToken),
	)

	opts := []service.Option{
		service.WithPageSize(a.cfg.Chat.PageSize),
	}

	s3Storage, err := storage.NewS3Storage(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
		PublicURL:       a.cfg.S3.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("initializing attachment storage: %w", err)
	}
	opts = append(opts, service.WithUploader(&attachmentStorageAdapter{storage: s3Storage}))

	// Snapshot persistence is optional; the engine runs in-memory without it.
	if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
		pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{
			MaxConns:     int32(a.cfg.Database.MaxOpenConns),
			MinConns:     int32(a.cfg.Database.MinOpenConns),
			ConnLifetime: a.cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to snapshot database: %w", err)
		}
		a.pg = pool
		opts = append(opts, service.WithSnapshots(dao.NewSnapshotPostgres(pool)))
	}

	a.engine = service.New(self, a.transport, &gatewayHistoryAdapter{client: gatewayClient}, a.logger, opts...)
	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	a.router.Get("/health", a.healthHandler)
	a.router.Get("/ready", a.readyHandler)

	a.router.Route("/api/v1", func(r chi.Router) {
		httpcontroller.NewChatHandler(a.engine).RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !a.transport.Connected() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"transport disconnected"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)
	if err := a.transport.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	// Prime the conversation list; live events fill in the rest.
	if err := a.engine.RefreshConversations(ctx); err != nil {
		a.logger.Warn("initial conversation refresh failed", "error", err)
	}

	if a.refresher != nil {
		a.refresher.Start(ctx)
	}

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	if a.refresher != nil {
		a.refresher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Snapshot before the transport drops so the engine state is settled.
	a.engine.Close(shutdownCtx)

	if err := a.transport.Close(shutdownCtx); err != nil {
		a.logger.Warn("closing transport", "error", err)
	}

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	if a.pg != nil {
		a.pg.Close()
	}

	a.logger.Info("shutdown complete")
	return nil
}

// gatewayHistoryAdapter adapts gateway.Client to service.HistoryClient
type gatewayHistoryAdapter struct {
	client *gateway.Client
}

func (a *gatewayHistoryAdapter) ListConversations(ctx context.Context, page, limit int) (*service.ConversationsResult, error) {
	out, err := a.client.ListConversations(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	return &service.ConversationsResult{
		Conversations: out.Conversations,
		HasMore:       out.HasMore,
	}, nil
}

func (a *gatewayHistoryAdapter) GetMessages(ctx context.Context, conversationID string, page, limit int) (*service.MessagesResult, error) {
	out, err := a.client.GetMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, err
	}
	return &service.MessagesResult{
		Messages: out.Messages,
		HasMore:  out.HasMore,
	}, nil
}

func (a *gatewayHistoryAdapter) GetOrCreateConversation(ctx context.Context, participantID string) (*entity.Conversation, error) {
	return a.client.GetOrCreateConversation(ctx, participantID)
}

// attachmentStorageAdapter adapts storage.S3Storage to
// service.AttachmentUploader
type attachmentStorageAdapter struct {
	storage *storage.S3Storage
}

func (a *attachmentStorageAdapter) Upload(ctx context.Context, in service.UploadAttachmentInput) (*entity.Attachment, error) {
	out, err := a.storage.Upload(ctx, storage.UploadInput{
		Reader:      in.Reader,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Size:        in.Size,
	})
	if err != nil {
		return nil, err
	}
	return &entity.Attachment{
		Key:         out.Key,
		URL:         out.URL,
		Name:        in.Filename,
		ContentType: in.ContentType,
		Size:        out.Size,
	}, nil
}
