package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"atelier/config"
	"atelier/models"
	"atelier/util"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis client for prediction record caching
var redisClient *redis.Client

const predictionKeyPrefix = "atelier:prediction:"

func cacheKey(prefix string, id any) string {
	return fmt.Sprintf("%s%v", prefix, id)
}

// InitStorageCache initializes the Redis client for prediction caching
func InitStorageCache() error {
	conf := config.GetConfig(nil)

	connectTimeout, err := time.ParseDuration(conf.Redis.ConnectTimeout)
	if err != nil {
		connectTimeout = 5 * time.Second
	}

	redisClient = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", conf.Redis.Host, conf.Redis.Port),
		Password:     conf.Redis.Password,
		DB:           conf.Redis.DB,
		PoolSize:     conf.Redis.PoolSize,
		MinIdleConns: conf.Redis.MinIdleConns,
		ReadTimeout:  connectTimeout,
		WriteTimeout: connectTimeout,
		DialTimeout:  connectTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logrus.Errorf("Failed to connect to Redis: %v", err)
		redisClient = nil
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.Infof("Prediction Redis cache initialized at %s:%d", conf.Redis.Host, conf.Redis.Port)

	go startRedisHealthCheck()

	return nil
}

// startRedisHealthCheck periodically checks the Redis connection
func startRedisHealthCheck() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if redisClient == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_, err := redisClient.Ping(ctx).Result()
		cancel()

		if err != nil {
			logrus.Errorf("Redis health check failed: %v", err)
		}
	}
}

// IsStorageCacheEnabled checks if Redis caching is enabled and reachable
func IsStorageCacheEnabled() bool {
	if redisClient == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := redisClient.Ping(ctx).Result()
	return err == nil
}

// CloseRedisCache closes the Redis connection
func CloseRedisCache() {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			util.LogWarning("Error closing Redis client", logrus.Fields{"error": err})
		}
		redisClient = nil
	}
}

// GetPredictionFromCache attempts to retrieve a prediction record from cache
func GetPredictionFromCache(ctx context.Context, id string) (*models.Prediction, bool) {
	if !IsStorageCacheEnabled() {
		return nil, false
	}

	data, err := redisClient.Get(ctx, cacheKey(predictionKeyPrefix, id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.Errorf("Redis error retrieving prediction %s: %v", id, err)
		}
		return nil, false
	}

	var p models.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		logrus.Errorf("Error deserializing prediction from Redis: %v", err)
		return nil, false
	}

	return &p, true
}

// CachePrediction stores a prediction record in cache
func CachePrediction(ctx context.Context, p *models.Prediction) {
	if !IsStorageCacheEnabled() || p == nil {
		return
	}

	conf := config.GetConfig(nil)
	data, err := json.Marshal(p)
	if err != nil {
		util.HandleError(fmt.Errorf("failed to marshal prediction: %w", err))
		return
	}

	key := cacheKey(predictionKeyPrefix, p.ID)
	if err := redisClient.Set(ctx, key, data, conf.PredictionTTL()).Err(); err != nil {
		logrus.Errorf("Redis error caching prediction %s: %v", p.ID, err)
	}
}

// InvalidatePredictionCache drops a cached prediction after a status change
func InvalidatePredictionCache(ctx context.Context, id string) {
	if !IsStorageCacheEnabled() {
		return
	}

	if err := redisClient.Del(ctx, cacheKey(predictionKeyPrefix, id)).Err(); err != nil {
		logrus.Errorf("Redis error invalidating prediction %s: %v", id, err)
	}
}
