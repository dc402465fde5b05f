/*Package notifier publishes entity mutation notifications to Kafka.
*/
package notifier

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/marina/core"
	"github.com/relabs-tech/marina/core/logger"
)

// Kafka implements core.Notifier on top of a Kafka topic. Messages are
// keyed with "<resource>.<operation>" so that notifications for one
// resource stay ordered within their partition.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka returns a new Kafka notifier writing to the given topic
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Notify publishes one notification. Notifications are fire-and-forget;
// a failed publish is logged and dropped.
func (k *Kafka) Notify(resource string, operation core.Operation, payload []byte) {
	err := k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("Error 7301: cannot publish %s %s notification", resource, operation)
	}
}

// Close closes the underlying writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ core.Notifier = (*Kafka)(nil)
