package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RadiSaiyed/Shamell-sub002/internal/api/handler"
	"github.com/RadiSaiyed/Shamell-sub002/internal/api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	walletHandler *handler.WalletHandler,
	sonicHandler *handler.SonicHandler,
	cashHandler *handler.CashHandler,
	voucherHandler *handler.VoucherHandler,
	redPacketHandler *handler.RedPacketHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		v1.POST("/users", walletHandler.CreateUser)

		wallets := v1.Group("/wallets")
		{
			wallets.GET("/:id", walletHandler.GetWallet)
			wallets.GET("/:id/txns", walletHandler.ListTxns)
		}

		v1.POST("/transfers", walletHandler.Transfer)
		v1.POST("/topups", walletHandler.Topup)
		v1.POST("/savings/deposit", walletHandler.SavingsDeposit)
		v1.POST("/savings/withdraw", walletHandler.SavingsWithdraw)
		v1.POST("/bills/pay", walletHandler.BillPay)

		sonicGroup := v1.Group("/sonic")
		{
			sonicGroup.POST("/issue", sonicHandler.Issue)
			sonicGroup.POST("/redeem", sonicHandler.Redeem)
			sonicGroup.POST("/cancel", sonicHandler.Cancel)
		}

		mandates := v1.Group("/cash-mandates")
		{
			mandates.POST("", cashHandler.Create)
			mandates.POST("/redeem", cashHandler.Redeem)
			mandates.POST("/:code/cancel", cashHandler.Cancel)
		}

		v1.POST("/voucher-batches", voucherHandler.CreateBatch)
		vouchers := v1.Group("/vouchers")
		{
			vouchers.POST("/redeem", voucherHandler.Redeem)
			vouchers.POST("/:code/void", voucherHandler.Void)
		}

		packets := v1.Group("/red-packets")
		{
			packets.POST("", redPacketHandler.Create)
			packets.GET("/:id", redPacketHandler.Get)
			packets.POST("/:id/claims", redPacketHandler.Claim)
		}

		v1.GET("/reconciliation/drift", walletHandler.Drift)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
