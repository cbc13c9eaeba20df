package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"

	"projectchat/internal/config"
	"projectchat/internal/db"
	"projectchat/internal/middleware"
	"projectchat/internal/server"
	"projectchat/internal/user"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg := config.Load()
	if *addr != "" {
		cfg.Addr = *addr
	}

	// Storage: postgres when configured, in-memory for dev.
	var messageRepo server.MessageRepository
	var userRepo user.Repository
	if cfg.DatabaseURL != "" {
		database, err := db.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to DB: %v", err)
		}
		if err := database.AutoMigrate(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Println("connected to PostgreSQL")
		messageRepo = server.NewPostgresRepository(database.Conn)
		userRepo = user.NewPostgresRepository(database.Conn)
	} else {
		log.Println("no DB_DSN set, using in-memory storage")
		messageRepo = server.NewMemoryRepository()
		userRepo = user.NewMemoryRepository()
	}

	// Fan-out: redis pub/sub when configured, local loop otherwise.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		log.Println("connected to Redis")
	} else {
		log.Println("no REDIS_ADDR set, fan-out is local to this instance")
	}

	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	hub := server.NewHub(redisClient, messageRepo)
	go hub.Run()
	if redisClient != nil {
		go hub.SubscribeToRedis()
	}

	chatHandler := server.NewHandler(hub, messageRepo, nil)
	authMiddleware := middleware.NewAuthMiddleware(userService)

	router := server.NewRouter(userHandler, authMiddleware, chatHandler)

	log.Printf("server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatal(err)
	}
}
