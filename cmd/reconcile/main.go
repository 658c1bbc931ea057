// Command reconcile polls the gateways for every non-terminal payment
// that has an external charge id and replays the status state machine.
// Meant to run from cron as a safety net for missed webhooks.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"coursemarket/internal/config"
	"coursemarket/internal/gateway"
	"coursemarket/internal/services"
)

func main() {
	minAge := flag.Duration("min-age", 10*time.Minute, "only reconcile payments untouched for this long")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run deadline")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg := config.Load()

	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	registry := gateway.NewRegistry(
		gateway.NewGetnetClient(cfg.Getnet, cfg.GatewayTimeout),
		gateway.NewAsaasClient(cfg.Asaas, cfg.GatewayTimeout),
	)
	paymentService := services.NewPaymentService(db, registry, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reconciled, err := paymentService.ReconcileStale(ctx, *minAge)
	if err != nil {
		log.Fatalf("Reconciliation run failed: %v", err)
	}
	log.Printf("Reconciliation finished, %d payments checked", reconciled)
}
