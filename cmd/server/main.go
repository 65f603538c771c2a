package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"access-service/internal/config"
	"access-service/internal/factory"
	"access-service/internal/handler"
	"access-service/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	cfg := f.Config()
	router := handler.NewRouter(
		handler.NewAccessHandler(f.ServiceFactory(), util.Get()),
		cfg,
		f.Ready,
		util.Get(),
	)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	servers := []*http.Server{server}

	errCh := make(chan error, 2)
	switch {
	case cfg.Server.EnableTLS && cfg.Server.AutoCert && cfg.IsProduction():
		servers = append(servers, startAutoCert(f, server, cfg, errCh))
	case cfg.Server.EnableTLS:
		server.Addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TLSPort)
		server.TLSConfig = f.TLSManager().GetTLSConfig()
		util.Info("Starting HTTPS server",
			util.String("address", server.Addr),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
		go serve(errCh, func() error { return server.ListenAndServeTLS("", "") })
	default:
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.String("address", server.Addr),
		)
		go serve(errCh, server.ListenAndServe)
	}

	select {
	case <-ctx.Done():
		util.Info("Received shutdown signal")
	case err := <-errCh:
		util.Error("Server failed", util.ErrorField(err))
	}
	shutdown(servers...)
}

// startAutoCert serves ACME challenges on :80 and the API on :443.
func startAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config, errCh chan<- error) *http.Server {
	manager := f.TLSManager().GetAutocertManager()
	if manager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	server.Addr = ":443"
	server.TLSConfig = f.TLSManager().GetTLSConfig()
	challenge := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}

	util.Info("Starting HTTPS server with AutoCert", util.String("domain", cfg.Server.Domain))
	go serve(errCh, challenge.ListenAndServe)
	go serve(errCh, func() error { return server.ListenAndServeTLS("", "") })
	return challenge
}

func serve(errCh chan<- error, run func() error) {
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

func shutdown(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
			continue
		}
		util.Info("Server shutdown completed", util.String("address", srv.Addr))
	}
}
