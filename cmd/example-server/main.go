package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"middleware-guard/middleware/ratelimit"
	"middleware-guard/middleware/ratelimit/application"
	"middleware-guard/middleware/ratelimit/domain"
	"middleware-guard/middleware/ratelimit/identity"
	"middleware-guard/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	// Exemplo: injetando o Guard diretamente no seu webserver (sem proxy)
	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore()
	application.NewReaper(store, logger.Named("reaper")).Start(ctx)

	guard := ratelimit.New(ratelimit.Options{
		Service:         application.NewService(store),
		Hasher:          identity.NewHasher(identity.WithSalt(os.Getenv("IDENTITY_SALT"))),
		Stats:           infra.NewMemoryStatsStore(),
		Logger:          logger.Named("guard"),
		Auth:            func(r *http.Request) bool { return r.Header.Get("Authorization") != "" },
		TrustRemoteAddr: true,
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(guard),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newRouter(guard *ratelimit.Guard) http.Handler {
	r := chi.NewRouter()
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50}))

	post := []string{http.MethodPost}
	r.Handle("/api/auth/login", guard.Middleware(ratelimit.Route{Endpoint: domain.EndpointLogin, Methods: post})(reply("logged in")))
	r.Handle("/api/auth/register", guard.Middleware(ratelimit.Route{Endpoint: domain.EndpointRegister, Methods: post})(reply("registered")))
	r.Handle("/api/auth/reset-password", guard.Middleware(ratelimit.Route{Endpoint: domain.EndpointResetPassword, Methods: post})(reply("reset sent")))
	r.Handle("/api/upload", guard.Middleware(ratelimit.Route{
		Endpoint:    domain.EndpointUpload,
		Methods:     []string{http.MethodPost, http.MethodPut},
		RequireAuth: true,
	})(reply("uploaded")))
	r.Handle("/*", guard.Middleware(ratelimit.Route{})(reply("ok")))
	return r
}

func reply(msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(msg + "\n"))
	})
}
