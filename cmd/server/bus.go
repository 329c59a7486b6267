package main

import (
	"context"
	"os"
	"strings"
	"time"

	"baton/cmd/server/config"
	"baton/internal/transport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPingTimeout   = 5 * time.Second
	redisConsumerGroup = "baton-saga-engine"
)

// consumerName identifies this process within the stream consumer group. A
// stable name lets a restarted process drain its own pending entries.
func consumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "baton-" + uuid.NewString()
}

// bus bundles the publisher/consumer pair the server runs on, plus the
// teardown for whatever client backs them.
type bus struct {
	publisher transport.Publisher
	consumer  transport.Consumer
	cleanup   func()
}

func buildBus(ctx context.Context, log *zap.Logger) (bus, error) {
	kind, err := config.LoadTransport()
	if err != nil {
		return bus{}, err
	}

	switch kind {
	case config.TransportRedis:
		return buildRedisBus(ctx, log)
	case config.TransportKafka:
		return buildKafkaBus(log)
	default:
		log.Info("no broker configured, using in-process transport")
		local := transport.NewLocalBus(0)
		return bus{publisher: local, consumer: local, cleanup: func() {}}, nil
	}
}

func buildRedisBus(ctx context.Context, log *zap.Logger) (bus, error) {
	cfg, err := config.LoadRedis()
	if err != nil {
		return bus{}, err
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return bus{}, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return bus{}, err
	}

	log.Info("using redis streams transport")
	return bus{
		publisher: transport.NewRedisPublisher(client, cfg.StreamMaxLen),
		consumer:  transport.NewRedisConsumer(client, redisConsumerGroup, consumerName(), transport.Topics(), 5*time.Second),
		cleanup: func() {
			if err := client.Close(); err != nil {
				log.Warn("close redis", zap.Error(err))
			}
		},
	}, nil
}

func buildKafkaBus(log *zap.Logger) (bus, error) {
	cfg, err := config.LoadKafka()
	if err != nil {
		return bus{}, err
	}

	brokers := strings.Join(cfg.Brokers, ",")
	publisher := transport.NewKafkaPublisher(brokers)
	consumer := transport.NewKafkaConsumer(brokers, cfg.GroupID, transport.Topics())

	log.Info("using kafka transport",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group_id", cfg.GroupID))
	return bus{
		publisher: publisher,
		consumer:  consumer,
		cleanup: func() {
			if err := publisher.Close(); err != nil {
				log.Warn("close kafka writers", zap.Error(err))
			}
		},
	}, nil
}
