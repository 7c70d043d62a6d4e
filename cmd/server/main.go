package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/meshcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meshcall/internal/adapter/driven/turn"
	handler "github.com/Wyydra/meshcall/internal/adapter/driving/http"
	"github.com/Wyydra/meshcall/internal/config"
	"github.com/Wyydra/meshcall/internal/core/service"
	"github.com/Wyydra/meshcall/internal/logging"
)

func main() {
	cfg := config.Load()
	l := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	iceServers := []handler.ICEServer{}
	if len(cfg.Relay.ICEServers) > 0 {
		iceServers = append(iceServers, handler.ICEServer{URLs: cfg.Relay.ICEServers})
	}

	var turnServer *turn.Server
	if cfg.TURN.Port > 0 {
		var err error
		turnServer, err = turn.Start(turn.Config{
			Port:     cfg.TURN.Port,
			Realm:    cfg.TURN.Realm,
			Username: cfg.TURN.Username,
			Password: cfg.TURN.Password,
			PublicIP: cfg.TURN.PublicIP,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to start TURN server")
		}
		creds := turnServer.Credentials()
		iceServers = append(iceServers, handler.ICEServer{
			URLs:       []string{turnServer.URL()},
			Username:   creds.Username,
			Credential: creds.Password,
		})
	}

	hub := ws.NewHub()
	rooms := service.NewRoomService(hub)
	auth := handler.NewAuthenticator(cfg.Relay.JWTSecret)
	h := handler.NewHandler(rooms, hub, auth, iceServers, cfg.Relay.AllowedOrigins)

	go hub.Run()

	srv := &http.Server{
		Addr:    cfg.Relay.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.Relay.Addr).Bool("jwt", cfg.Relay.JWTSecret != "").Msg("Starting relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	if turnServer != nil {
		if err := turnServer.Close(); err != nil {
			l.Error().Err(err).Msg("Closing TURN server failed")
		}
	}
	l.Info().Msg("Server exited")
}
