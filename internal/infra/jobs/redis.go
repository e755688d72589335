package jobs

import (
	"github.com/hibiken/asynq"

	"github.com/vigilis/sentinel/internal/config"
	"github.com/vigilis/sentinel/internal/infra/redis"
)

// RedisOpt builds the asynq connection from the shared Redis configuration.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		TLSConfig:    redis.TLSConfig(cfg),
	}
}
