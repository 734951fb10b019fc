package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PixelMoon99/storefront-payments/app/cache"
	"github.com/PixelMoon99/storefront-payments/app/controller"
	"github.com/PixelMoon99/storefront-payments/app/gateway"
	"github.com/PixelMoon99/storefront-payments/app/notify"
	"github.com/PixelMoon99/storefront-payments/app/repository"
	"github.com/PixelMoon99/storefront-payments/app/service"
	"github.com/PixelMoon99/storefront-payments/config"

	_ "github.com/go-sql-driver/mysql"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP server handling gateway webhooks and the storefront top-up API.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	paymentController := controller.NewPaymentController(paymentService)
	e := setupHTTPServer(paymentController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(paymentController *controller.PaymentController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", paymentController.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	topups := e.Group("/topups")
	topups.POST("", paymentController.CreateTopUp)
	topups.GET("/:id", paymentController.GetTopUp)

	// Raw-body route: no body-parsing middleware may be added here.
	e.POST("/webhooks/gateways", paymentController.HandleGatewayWebhook)

	return e
}

func mustCreatePaymentService() (*config.Config, *service.PaymentService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	txRepo := repository.NewTransactionRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)
	auditRepo := repository.NewTransactionEventRepository(db)
	walletRepo := repository.NewWalletRepository(db)

	gateways := buildGatewayRegistry(cfg)

	var dedup *cache.DedupCache
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logrus.WithError(err).Warn("Redis unreachable, webhook dedup falls back to database only")
			_ = redisClient.Close()
			redisClient = nil
		} else {
			dedup = cache.NewDedupCache(redisClient, cfg.Redis.DedupTTL)
		}
	}

	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		saramaCfg := sarama.NewConfig()
		saramaCfg.Producer.Return.Successes = true
		saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
		saramaCfg.Producer.Retry.Max = 5

		producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
		if err != nil {
			logrus.WithError(err).Warn("Kafka unreachable, payment events will not be published")
			producer = nil
		}
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		StorefrontCallbackURL: cfg.Dispatch.StorefrontCallbackURL,
		CallbackSecret:        cfg.Dispatch.CallbackSecret,
		KafkaTopic:            cfg.Kafka.Topic,
		HTTPTimeout:           cfg.Dispatch.HTTPTimeout,
	}, producer)

	var dedupArg service.DedupCache
	if dedup != nil {
		dedupArg = dedup
	}

	paymentService := service.NewPaymentService(
		txRepo,
		webhookRepo,
		auditRepo,
		walletRepo,
		gateways,
		dedupArg,
		dispatcher,
		cfg.Payments,
		cfg.App.CallbackBaseURL,
	)

	cleanup := func() {
		if producer != nil {
			if err := producer.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close Kafka producer")
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close Redis client")
			}
		}
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, paymentService, cleanup
}

// buildGatewayRegistry registers only the gateways whose secrets are
// configured; an unconfigured gateway must never be selected.
func buildGatewayRegistry(cfg *config.Config) *gateway.Registry {
	gateways := make([]gateway.Gateway, 0, 2)

	if cfg.NowPayments.IPNSecret != "" {
		gateways = append(gateways, gateway.NewNowPaymentsGateway(gateway.NowPaymentsConfig{
			APIKey:      cfg.NowPayments.APIKey,
			IPNSecret:   cfg.NowPayments.IPNSecret,
			BaseURL:     cfg.NowPayments.BaseURL,
			HTTPTimeout: cfg.NowPayments.HTTPTimeout,
		}))
	}
	if cfg.MatrixSols.WebhookSecret != "" {
		gateways = append(gateways, gateway.NewMatrixSolsGateway(gateway.MatrixSolsConfig{
			APIKey:        cfg.MatrixSols.APIKey,
			WebhookSecret: cfg.MatrixSols.WebhookSecret,
			BaseURL:       cfg.MatrixSols.BaseURL,
			HTTPTimeout:   cfg.MatrixSols.HTTPTimeout,
		}))
	}

	return gateway.NewRegistry(gateways...)
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	return nil
}
