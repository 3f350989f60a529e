// servidor-burrao é um upstream de demonstração para validar o gateway na mão:
// ele só responde e loga, sem nenhuma proteção própria.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger.Info("servidor rodando", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, newRouter(logger)); err != nil {
		logger.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}

func newRouter(logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		logger.Info("acesso", zap.String("path", r.URL.Path), zap.String("xff", r.Header.Get("X-Forwarded-For")))
	})
	r.Post("/api/auth/{action}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"action":%q,"ok":true}`, chi.URLParam(r, "action"))
		logger.Info("auth", zap.String("action", chi.URLParam(r, "action")), zap.String("ua", r.UserAgent()))
	})
	r.Post("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		logger.Info("upload", zap.Int64("bytes", r.ContentLength))
	})
	return r
}
