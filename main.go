package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"anime-recs-api/config"
	"anime-recs-api/logcolors"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

var conf = config.Get()

const shutdownTimeout = 15 * time.Second

func main() {
	setupLogging(conf)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(conf, nil)
	if err != nil {
		log.Fatalf("%s Startup failed: %v", logcolors.LogServer, err)
	}
	srv.startBackgroundJobs(ctx)
	defer srv.close()

	router := mux.NewRouter()
	setupRoutes(router, srv)

	c := cors.New(cors.Options{
		AllowedOrigins:   conf.Configuration.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-User-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Cache-Status", "X-Genres", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Type", "Retry-After", "X-Request-ID"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              ":" + conf.Configuration.Port,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("%s Listening on port %s", logcolors.LogServer, conf.Configuration.Port)
		srv.events.PublishServerStarted(conf.Configuration.Port, srv.scorer.Table().Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("%s Server error: %v", logcolors.LogServer, err)
		}
	}()

	<-ctx.Done()
	log.Infof("%s Shutting down", logcolors.LogServer)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("%s Graceful shutdown failed: %v", logcolors.LogServer, err)
	}
}
