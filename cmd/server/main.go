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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"swaprelay/internal/config"
	"swaprelay/internal/contract"
	"swaprelay/internal/dispatch"
	"swaprelay/internal/logging"
	"swaprelay/internal/server"
	"swaprelay/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := logging.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx := context.Background()
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("store error: %v", err)
	}
	defer closeStore()

	c, err := contract.New(st, contract.WithLogger(logger))
	if err != nil {
		logger.Fatalf("contract error: %v", err)
	}
	if err := bootstrap(ctx, c, cfg.Contract, logger); err != nil {
		logger.Fatalf("bootstrap error: %v", err)
	}

	dispatcher, closeDispatcher, err := openDispatcher(ctx, cfg, st, logger)
	if err != nil {
		logger.Fatalf("dispatcher error: %v", err)
	}
	defer closeDispatcher()

	apiServer := server.NewServer(cfg, c, st, dispatcher, logger)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.AppConfig) (contract.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "file":
		st, err := store.NewFileStore(cfg.Store.Path)
		return st, func() {}, err
	case "postgres":
		st, err := store.NewPostgresStore(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "redis":
		st, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// bootstrap instantiates the contract from config the first time the store is used.
func bootstrap(ctx context.Context, c *contract.Contract, cc config.ContractConfig, log *logrus.Logger) error {
	if cc.Owner == "" {
		if _, err := c.JobID(ctx); err != nil {
			return fmt.Errorf("store is empty and contract.owner is not set: %w", err)
		}
		return nil
	}
	_, err := c.Instantiate(ctx, cc.Owner, contract.InstantiateMsg{
		RetryDelay: cc.RetryDelay,
		JobID:      cc.JobID,
		Creator:    cc.Creator,
		Signers:    cc.Signers,
	})
	if errors.Is(err, contract.ErrAlreadyInstantiated) {
		log.Info("using persisted contract state")
		return nil
	}
	return err
}

func openDispatcher(ctx context.Context, cfg *config.AppConfig, st contract.Store, log *logrus.Logger) (dispatch.Client, func(), error) {
	switch cfg.Dispatch.Driver {
	case "log":
		return &dispatch.FakeClient{Log: log.WithField("component", "dispatch")}, func() {}, nil
	case "redis":
		closeFn := func() {}
		var client *redis.Client
		if rs, ok := st.(*store.RedisStore); ok {
			client = rs.Client()
		} else {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			closeFn = func() { _ = client.Close() }
		}
		d, err := dispatch.NewRedisStreamClient(client, cfg.Redis.Stream, cfg.Redis.MaxLen)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return d, closeFn, nil
	case "eth":
		d, err := dispatch.NewEthClient(ctx, dispatch.EthClientConfig{
			RPCURL:         cfg.Chain.RPCURL,
			PrivateKeyHex:  cfg.Chain.PrivateKey,
			CompassAddress: cfg.Chain.CompassAddress,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown dispatch driver %q", cfg.Dispatch.Driver)
}
