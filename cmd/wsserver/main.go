package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fastclassified/marketplace/internal/hub"
	"github.com/fastclassified/marketplace/internal/messaging"
	"github.com/fastclassified/marketplace/internal/presence"
	"github.com/fastclassified/marketplace/internal/ratelimit"
	"github.com/fastclassified/marketplace/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.Name = "marketplace-ws"
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	lastSeen := presence.NewLastSeenStore(redisClient)
	limiter := ratelimit.NewLimiter(redisClient)

	log.Printf("Marketplace realtime server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	h := hub.NewHub(presence.NewRegistry())

	server := ws.NewServer(config, func(conn *ws.Connection, data []byte) {
		h.HandleEvent(conn.UserID, conn, data)
	})

	server.SetUpgradeGate(func(r *http.Request) bool {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		ok, _ := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		return ok
	})

	server.SetOnConnect(func(conn *ws.Connection) {
		h.Connect(conn.UserID, conn)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := lastSeen.Touch(ctx, conn.UserID); err != nil {
			log.Printf("lastseen touch on connect user=%s: %v", conn.UserID, err)
		}
	})

	server.SetOnDisconnect(func(conn *ws.Connection) {
		// Identity-checked: a stale socket from a reconnect does not
		// announce the user offline.
		if !h.Disconnect(conn.UserID, conn) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := lastSeen.Touch(ctx, conn.UserID); err != nil {
			log.Printf("lastseen touch on disconnect user=%s: %v", conn.UserID, err)
		}
	})

	// Forward API-server pushes to locally connected users. A user connected
	// to a different realtime server (or offline) simply isn't in this hub.
	err = natsClient.SubscribePush(func(kind messaging.PushKind, ev messaging.PushEvent) {
		var deliver func(string, []byte) error
		switch kind {
		case messaging.PushMessage:
			deliver = func(u string, p []byte) error { return h.SendNewMessage(u, p) }
		case messaging.PushNotification:
			deliver = func(u string, p []byte) error { return h.SendNotification(u, p) }
		case messaging.PushSession:
			deliver = func(u string, p []byte) error { return h.SendSessionUpdate(u, p) }
		}

		if err := deliver(ev.UserID, ev.Payload); err != nil && err != hub.ErrUserOffline {
			log.Printf("push delivery failed kind=%s user=%s: %v", kind, ev.UserID, err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to push subjects: %v", err)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
