package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hypercode/collab/internal/api"
	"github.com/hypercode/collab/internal/config"
	"github.com/hypercode/collab/internal/db"
	"github.com/hypercode/collab/internal/ratelimit"
	"github.com/hypercode/collab/internal/retention"
	"github.com/hypercode/collab/internal/snapshot"
	"github.com/hypercode/collab/internal/wire"
	"github.com/hypercode/collab/internal/ws"
)

func main() {
	cfg := config.Load()

	store := snapshot.New(cfg.SnapshotDir)

	history, err := db.Open(cfg.HistoryDBPath)
	if err != nil {
		log.Fatalf("Failed to open history database: %v", err)
	}
	defer history.Close()

	hub := ws.NewHub(store, history)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	sweeper := retention.New(store, history, retention.Config{
		Interval:         cfg.SweepInterval,
		SnapshotTTL:      cfg.SnapshotTTL,
		KeepAutoVersions: cfg.KeepAutoVersions,
	})
	sweeper.Start()

	ipLimiter := ratelimit.NewPerKey(cfg.RateLimitPerIP, int(cfg.RateLimitPerIP)*2)
	defer ipLimiter.Stop()

	apiHandler := api.New(hub, history)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !ipLimiter.Allow(host) {
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			return
		}
		ws.ServeWS(hub, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/versions", apiHandler.VersionsHandler)

	handler := corsMiddleware(rejectStrayUpgrades(http.DefaultServeMux))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		sweeper.Stop()
		history.Close()
		os.Exit(0)
	}()

	log.Printf("Collab server starting on %s", cfg.Addr)
	log.Printf("Snapshots: %s", store.Dir())
	log.Printf("History:   %s", cfg.HistoryDBPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Versions:  GET /api/versions?room={roomId}")

	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rejectStrayUpgrades tears down upgrade attempts aimed at any path other
// than /ws. An HTTP error would leave the client waiting mid-handshake,
// so the socket is closed outright.
func rejectStrayUpgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" && wire.IsUpgradeRequest(r) {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			http.Error(w, "upgrade not supported here", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
