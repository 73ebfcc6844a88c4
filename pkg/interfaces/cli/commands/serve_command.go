package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vsinha/costing/pkg/application/services"
	"github.com/vsinha/costing/pkg/domain/repositories"
	"github.com/vsinha/costing/pkg/infrastructure/config"
	"github.com/vsinha/costing/pkg/infrastructure/events"
	"github.com/vsinha/costing/pkg/infrastructure/events/rabbitmq"
	"github.com/vsinha/costing/pkg/infrastructure/lock"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/memory"
	"github.com/vsinha/costing/pkg/infrastructure/repositories/mysql"
	"github.com/vsinha/costing/pkg/interfaces/transport"
	"go.uber.org/zap"
)

// shutdownTimeout bounds the graceful HTTP shutdown
const shutdownTimeout = 10 * time.Second

// ServeCommand runs the engine behind the HTTP binding until ctx is cancelled
type ServeCommand struct {
	config *config.Config
	logger *zap.Logger
}

// NewServeCommand creates a new serve command
func NewServeCommand(cfg *config.Config, logger *zap.Logger) *ServeCommand {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServeCommand{config: cfg, logger: logger}
}

// Execute wires the stores, event feed and HTTP server, then blocks until shutdown
func (c *ServeCommand) Execute(ctx context.Context) error {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				c.logger.Warn("failed to close resource", zap.Error(err))
			}
		}
	}()

	locker, closeLocker, err := c.buildLocker(ctx)
	if err != nil {
		return err
	}
	if closeLocker != nil {
		closers = append(closers, closeLocker)
	}

	repos, closeStore, err := c.buildRepositories(ctx, locker)
	if err != nil {
		return err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	eventStore := events.NewInMemoryEventStore(c.logger)
	if c.config.RabbitMQ.Enabled() {
		publisher, err := rabbitmq.NewPublisher(c.config.RabbitMQ.URL, c.config.RabbitMQ.Exchange, c.logger)
		if err != nil {
			return fmt.Errorf("failed to connect rabbitmq: %w", err)
		}
		closers = append(closers, publisher.Close)
		if err := eventStore.Subscribe(events.AllEventTypes, publisher); err != nil {
			return fmt.Errorf("failed to subscribe publisher: %w", err)
		}
		c.logger.Info("publishing events", zap.String("exchange", c.config.RabbitMQ.Exchange))
	}

	engine, err := services.NewEngine(repos, eventStore, services.EngineConfig{
		MaxExplosionDepth: c.config.Engine.MaxExplosionDepth,
	}, nil, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	server := &http.Server{
		Addr:         ":" + c.config.HTTP.Port,
		Handler:      transport.NewTransport(engine, c.logger),
		ReadTimeout:  c.config.HTTP.ReadTimeout,
		WriteTimeout: c.config.HTTP.WriteTimeout,
		IdleTimeout:  c.config.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		c.logger.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("store", c.config.Store.Driver),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	c.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	c.logger.Info("HTTP server stopped")
	return nil
}

// buildLocker connects the cross-instance Redis locker when configured
func (c *ServeCommand) buildLocker(ctx context.Context) (repositories.KeyLocker, func() error, error) {
	if !c.config.Redis.Enabled() {
		return nil, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.config.Redis.Addr,
		Password: c.config.Redis.Password,
		DB:       c.config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	c.logger.Info("connected to redis", zap.String("addr", c.config.Redis.Addr))

	locker := lock.NewRedisLocker(rdb, lock.RedisLockerConfig{
		TTL:     c.config.Redis.LockTTL,
		Retries: c.config.Redis.LockRetries,
		Backoff: c.config.Redis.LockBackoff,
	}, c.logger)
	return locker, rdb.Close, nil
}

// buildRepositories opens the configured store
func (c *ServeCommand) buildRepositories(ctx context.Context, locker repositories.KeyLocker) (services.Repositories, func() error, error) {
	switch c.config.Store.Driver {
	case config.StoreMySQL:
		db, err := mysql.Open(ctx, c.config.MySQL.DSN, mysql.Options{
			MaxOpenConns:    c.config.MySQL.MaxOpenConns,
			MaxIdleConns:    c.config.MySQL.MaxIdleConns,
			ConnMaxLifetime: c.config.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			return services.Repositories{}, nil, fmt.Errorf("failed to open mysql: %w", err)
		}
		c.logger.Info("connected to mysql")

		return services.Repositories{
			Ledger: mysql.NewLedger(db, mysql.LedgerConfig{
				Locker:      locker,
				LockTimeout: c.config.Engine.LockTimeout,
				Logger:      c.logger,
			}),
			Compositions: mysql.NewCompositionRepository(db),
			Orders:       mysql.NewOrderRepository(db),
			Products:     mysql.NewProductRepository(db),
		}, db.Close, nil

	default:
		return services.Repositories{
			Ledger: memory.NewLedger(memory.LedgerConfig{
				Locker:      locker,
				LockTimeout: c.config.Engine.LockTimeout,
				Logger:      c.logger,
			}),
			Compositions: memory.NewCompositionRepository(0),
			Orders:       memory.NewOrderRepository(),
			Products:     memory.NewProductRepository(0),
		}, nil, nil
	}
}
