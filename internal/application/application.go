package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/queue-service/internal/clock"
	"github.com/psds-microservice/queue-service/internal/config"
	"github.com/psds-microservice/queue-service/internal/database"
	"github.com/psds-microservice/queue-service/internal/department"
	"github.com/psds-microservice/queue-service/internal/handler"
	"github.com/psds-microservice/queue-service/internal/kafka"
	"github.com/psds-microservice/queue-service/internal/lock"
	"github.com/psds-microservice/queue-service/internal/router"
	"github.com/psds-microservice/queue-service/internal/searchindex"
	"github.com/psds-microservice/queue-service/internal/service"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Components: собранные зависимости, общие для api и служебных команд.
type Components struct {
	Queue    *service.QueueService
	Registry *department.Registry
	Producer *kafka.Producer
	Search   *searchindex.Client
	Ready    handler.ReadinessCheck

	db    *gorm.DB
	redis *redis.Client
}

// Build собирает хранилище, блокировку и сервис очереди по конфигу.
// migrate=true применяет миграции перед открытием БД.
func Build(cfg *config.Config, log zerolog.Logger, migrate bool) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	registry := department.Default()
	if cfg.DepartmentsFile != "" {
		if registry, err = department.LoadFile(cfg.DepartmentsFile); err != nil {
			return nil, err
		}
	}

	c := &Components{Registry: registry}
	var st store.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("store: in-memory driver, queue is lost on restart")
		st = store.NewMemory()
	default:
		if migrate {
			if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := database.Open(cfg.DSN(), log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		c.db = db
		st = store.NewGorm(db)
		c.Ready = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		rdb, err := lock.ParseRedisURL(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			c.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		c.redis = rdb
		locker = lock.NewRedis(rdb, cfg.LockTTL)
		log.Info().Msg("lock: redis")
	}

	c.Queue = service.NewQueueService(st, registry, clock.NewReal(loc), locker, service.Options{
		StoreTimeout:  cfg.Queue.StoreTimeout,
		ClaimAttempts: cfg.Queue.ClaimAttempts,
		IssueAttempts: cfg.Queue.IssueAttempts,
	})
	c.Producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicQueue, log)
	c.Search = searchindex.NewClient(cfg.SearchServiceURL, log)
	return c, nil
}

// Close освобождает соединения.
func (c *Components) Close() error {
	var errs []error
	if c.Producer != nil {
		errs = append(errs, c.Producer.Close())
	}
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.db != nil {
		errs = append(errs, database.Close(c.db))
	}
	return errors.Join(errs...)
}

// API приложение: HTTP-сервер очереди (режим api).
type API struct {
	cfg     *config.Config
	log     zerolog.Logger
	comp    *Components
	httpSrv *http.Server
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config, log zerolog.Logger) (*API, error) {
	comp, err := Build(cfg, log, true)
	if err != nil {
		return nil, err
	}
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	queueHandler := handler.NewQueueHandler(handler.Deps{
		Queue:    comp.Queue,
		Registry: comp.Registry,
		Events:   comp.Producer,
		Search:   comp.Search,
		Log:      log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(queueHandler, comp.Ready, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &API{cfg: cfg, log: log, comp: comp, httpSrv: httpSrv}, nil
}

// Run запускает HTTP-сервер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	defer a.comp.Close()

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info().
		Str("addr", a.httpSrv.Addr).
		Str("swagger", base+paths.PathSwagger).
		Str("health", base+paths.PathHealth).
		Str("api", base+"/api/v1/").
		Strs("departments", a.comp.Registry.IDs()).
		Bool("kafka", a.comp.Producer.Enabled()).
		Bool("search_index", a.comp.Search.Enabled()).
		Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
