package fanout

import (
	"context"

	"github.com/lalith-99/circlecast/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects and configures the broker.
type Options struct {
	Broker  string // config.BrokerRedis, config.BrokerNATS or config.BrokerLocal
	Redis   redis.UniversalClient
	NATSURL string
}

// Connect returns the configured bus. When the broker cannot be reached it
// logs a warning and returns a LocalBus: the instance keeps serving its own
// connections and only loses cross-instance delivery.
func Connect(ctx context.Context, opts Options, logger *zap.Logger) Bus {
	switch opts.Broker {
	case config.BrokerRedis:
		if opts.Redis == nil {
			logger.Warn("redis unavailable, running fanout in single-instance mode")
			break
		}
		bus, err := NewRedisBus(ctx, opts.Redis, logger)
		if err != nil {
			logger.Warn("redis fanout unavailable, running in single-instance mode", zap.Error(err))
			break
		}
		logger.Info("fanout attached", zap.String("broker", config.BrokerRedis))
		return bus

	case config.BrokerNATS:
		bus, err := NewNatsBus(opts.NATSURL, logger)
		if err != nil {
			logger.Warn("nats fanout unavailable, running in single-instance mode", zap.Error(err))
			break
		}
		logger.Info("fanout attached", zap.String("broker", config.BrokerNATS))
		return bus
	}

	logger.Info("fanout attached", zap.String("broker", config.BrokerLocal))
	return NewLocalBus()
}
