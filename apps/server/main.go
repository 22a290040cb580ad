package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/dupahar/relay/pkg/config"
	"github.com/dupahar/relay/pkg/logger"
	"github.com/dupahar/relay/pkg/presence"
	"github.com/dupahar/relay/pkg/snowflake"
	"github.com/dupahar/relay/pkg/store"
)

func main() {
	cfg := config.Load()
	logger.Init("relay-server", cfg.Debug)
	defer logger.Sync()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logger.Log.Fatal("store_open_failed", zap.String("dir", cfg.DataDir), zap.Error(err))
	}
	defer st.Close()

	// Node ID should be unique per instance when this ever runs more than
	// once; a single process is the supported deployment.
	ids, err := snowflake.NewNode(1)
	if err != nil {
		logger.Log.Fatal("snowflake_init_failed", zap.Error(err))
	}

	// Presence starts empty on every boot: all users are offline until
	// their first join.
	registry := presence.NewRegistry()

	pm := newPresenceMirror(cfg.RedisAddr)
	defer pm.Close()
	em := newEventMirror(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer em.Close()

	hub := NewHub(st, registry, ids, pm, em)
	go hub.Run()

	mux := http.NewServeMux()
	mux.Handle("POST /login", CORSMiddleware(http.HandlerFunc(LoginHandler)))
	mux.Handle("GET /users", CORSMiddleware(AuthMiddleware(UsersHandler(st))))
	mux.Handle("GET /groups", CORSMiddleware(AuthMiddleware(GroupsHandler(st))))
	mux.Handle("GET /groups/{id}", CORSMiddleware(AuthMiddleware(GroupHandler(st))))
	mux.Handle("DELETE /groups/{id}", CORSMiddleware(AuthMiddleware(DeleteGroupHandler(st))))
	mux.Handle("GET /messages", CORSMiddleware(AuthMiddleware(MessagesHandler(st))))
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})

	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Log.Info("server_listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen_failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Log.Info("server_stopping")
	server.Close()
}
