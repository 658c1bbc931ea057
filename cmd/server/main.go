package main

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"coursemarket/internal/config"
	"coursemarket/internal/gateway"
	"coursemarket/internal/handlers"
	appmw "coursemarket/internal/middleware"
	"coursemarket/internal/services"
)

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg := config.Load()

	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, catalog caching disabled: %v", err)
		} else {
			defer cache.Close()
		}
	}

	registry := gateway.NewRegistry(
		gateway.NewGetnetClient(cfg.Getnet, cfg.GatewayTimeout),
		gateway.NewAsaasClient(cfg.Asaas, cfg.GatewayTimeout),
	)

	paymentService := services.NewPaymentService(db, registry, cfg)
	webhookService := services.NewWebhookService(db, registry)

	mailer := services.NewEmailService(cfg.SMTP)
	if mailer.Enabled() {
		paymentService.SetMailer(mailer)
	} else {
		log.Println("SMTP not configured, transactional mail disabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{v: validator.New()}
	e.HTTPErrorHandler = appmw.HTTPErrorHandler

	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	paymentHandler := handlers.NewPaymentHandler(paymentService, registry.Names(), cfg)
	webhookHandler := handlers.NewWebhookHandler(webhookService, paymentService)
	catalogHandler := handlers.NewCatalogHandler(db, cache)

	// Public routes
	e.GET("/courses", catalogHandler.ListCourses)
	e.GET("/courses/:id", catalogHandler.GetCourse)
	e.POST("/coupons/validate", catalogHandler.ValidateCoupon)
	e.GET("/payment/config", paymentHandler.GetPaymentConfig)
	e.POST("/payment/calculate-installments", paymentHandler.CalculateInstallments)
	e.POST("/webhook/:gateway", webhookHandler.HandleWebhook)

	// Protected routes
	protected := e.Group("")
	protected.Use(appmw.RequireAuth(cfg.JWTSecret))
	protected.POST("/payment/pix", paymentHandler.CreatePixPayment)
	protected.POST("/payment/credit-card", paymentHandler.CreateCreditCardPayment)
	protected.POST("/payment/boleto", paymentHandler.CreateBoletoPayment)
	protected.GET("/payment/:id/status", paymentHandler.GetPaymentStatus)
	protected.POST("/payment/:id/sync", paymentHandler.SyncPaymentStatus)
	protected.GET("/payment/:id/events", webhookHandler.ListWebhookEvents)
	protected.GET("/enrollments", catalogHandler.ListEnrollments)

	log.Printf("Server starting on port %s", cfg.Port)
	e.Logger.Fatal(e.Start(":" + cfg.Port))
}
