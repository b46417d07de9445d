package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/internal/accounts"
	"toker/token-portal/token-portal-backend/internal/auth"
	"toker/token-portal/token-portal-backend/internal/catalog"
	"toker/token-portal/token-portal-backend/internal/claims"
	"toker/token-portal/token-portal-backend/internal/config"
	"toker/token-portal/token-portal-backend/internal/trades"
	"toker/token-portal/token-portal-backend/internal/transfers"
	"toker/token-portal/token-portal-backend/pkg/chain"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&accounts.Issuer{}, &accounts.Collector{},
		&catalog.TokenCollection{}, &catalog.Token{},
		&catalog.CodeConstraint{}, &catalog.TimeConstraint{}, &catalog.LocationConstraint{},
		&trades.TradeRequest{}, &trades.TradeItem{},
	); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	chainClient, err := chain.NewGethClient(context.Background(), cfg.Chain)
	if err != nil {
		logger.Fatal("failed to connect to chain node", zap.Error(err))
	}
	defer chainClient.Close()

	tokens := auth.NewManager(cfg.Security.JWTSecret, 0)

	r := gin.Default()

	// ---------------- ACCOUNTS ----------------
	accountService := accounts.NewService(db, chainClient, logger)
	accounts.NewHandler(accountService, tokens).RegisterRoutes(r)

	// ---------------- CATALOG ----------------
	issuanceService := catalog.NewIssuanceService(db, chainClient, tokens, cfg.Media.QRCodeDir, logger)
	catalog.NewHandler(issuanceService, tokens).RegisterRoutes(r)

	// ---------------- CLAIMS ----------------
	claimWorkflow := claims.NewWorkflow(db, chainClient, logger)
	claims.NewHandler(claimWorkflow, tokens).RegisterRoutes(r)

	// ---------------- TRADES ----------------
	tradeWorkflow := trades.NewWorkflow(db, chainClient, logger)
	trades.NewHandler(tradeWorkflow, tokens).RegisterRoutes(r)

	// ---------------- TRANSFERS ----------------
	transferWorkflow := transfers.NewWorkflow(db, chainClient, logger)
	transfers.NewHandler(transferWorkflow, tokens).RegisterRoutes(r)

	// ---------------- PING ----------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "API alive!"})
	})

	addr := cfg.Server.GetServerAddr()
	logger.Info("server running", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
