package messaging

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Publisher backends
const (
	BackendGoChannel = "gochannel"
	BackendKafka     = "kafka"
)

// Config selects and configures the publisher backend
type Config struct {
	Backend string
	Topic   string
	Brokers []string
}

// NewGoChannel creates an in-process pub/sub. The same instance serves as
// publisher and subscriber.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// NewKafkaPublisher creates a synchronous kafka publisher
func NewKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (*kafka.Publisher, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

	return kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
		},
		logger,
	)
}

// NewPublisher builds the configured backend
func NewPublisher(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	switch cfg.Backend {
	case "", BackendGoChannel:
		return NewGoChannel(logger), nil
	case BackendKafka:
		return NewKafkaPublisher(cfg.Brokers, logger)
	default:
		return nil, fmt.Errorf("unsupported broadcast backend %q", cfg.Backend)
	}
}
