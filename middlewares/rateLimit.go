package middlewares

import (
	"os"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/shop_ledger/config"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// RateLimitFromEnv reads RATE_LIMIT_RATE in limiter's "<limit>-<period>" format
// (default "600-M"). It returns nil when RATE_LIMIT_ENABLED is not true.
func RateLimitFromEnv() (gin.HandlerFunc, error) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil, nil
	}
	formatted := strings.TrimSpace(os.Getenv("RATE_LIMIT_RATE"))
	if formatted == "" {
		formatted = "600-M"
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return RateLimit(rate), nil
}

// RateLimit limits by client IP. Counters live in redis once it is connected so
// all instances share them; until then each instance counts in memory.
func RateLimit(rate limiter.Rate) gin.HandlerFunc {
	inMemory := mgin.NewMiddleware(limiter.New(memory.NewStore(), rate))

	var once sync.Once
	var shared gin.HandlerFunc
	return func(c *gin.Context) {
		if client := config.GetRedisDB(); client != nil {
			once.Do(func() {
				store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
					Prefix:   "rate_limit",
					MaxRetry: 3,
				})
				if err != nil {
					config.GetLogger().WithError(err).Warn("redis rate limit store unavailable; using memory store")
					return
				}
				shared = mgin.NewMiddleware(limiter.New(store, rate))
			})
			if shared != nil {
				shared(c)
				return
			}
		}
		inMemory(c)
	}
}
