// Package api hosts the HTTP surface of the wallet ledger: routing,
// middleware and the request handlers for every money-moving vertical.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/RadiSaiyed/Shamell-sub002/internal/api/handler"
	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
)

// Server handles HTTP requests and manages the listener's lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	httpRouter *gin.Engine
}

// NewServer creates and configures a new HTTP server over the given services
func NewServer(
	log *slog.Logger,
	cfg *config.Config,
	walletSvc handler.WalletService,
	sonicSvc handler.SonicService,
	cashSvc handler.CashService,
	voucherSvc handler.VoucherService,
	redPacketSvc handler.RedPacketService,
) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	setupRouter(log, httpRouter,
		handler.NewWalletHandler(log, walletSvc),
		handler.NewSonicHandler(log, sonicSvc),
		handler.NewCashHandler(log, cashSvc),
		handler.NewVoucherHandler(log, voucherSvc),
		handler.NewRedPacketHandler(log, redPacketSvc),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.httpServer.WriteTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}
