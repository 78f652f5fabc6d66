package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/logger"
)

const (
	TopicScanRecorded   = "ticketly.checkin.scanned"
	TopicTicketIssued   = "ticketly.ticket.issued"
	TopicTicketRevoked  = "ticketly.ticket.revoked"
	TopicOrderCompleted = "ticketly.order.completed"
)

// Topics is the set the service produces to or consumes from.
type Topics struct {
	ScanRecorded   string
	TicketIssued   string
	TicketRevoked  string
	OrderCompleted string
}

func DefaultTopics() Topics {
	return Topics{
		ScanRecorded:   TopicScanRecorded,
		TicketIssued:   TopicTicketIssued,
		TicketRevoked:  TopicTicketRevoked,
		OrderCompleted: TopicOrderCompleted,
	}
}

func (t Topics) All() []string {
	return []string{t.ScanRecorded, t.TicketIssued, t.TicketRevoked, t.OrderCompleted}
}

// EnsureTopicsExist creates the missing topics through the cluster
// controller. A topic that already exists is not an error.
func EnsureTopicsExist(ctx context.Context, brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", addr, err)
	}
	defer controllerConn.Close()

	var failed []string
	for _, topic := range topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		switch {
		case err == nil:
			log.LogKafka("CREATE_TOPIC", topic, "created")
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.Debug("KAFKA", fmt.Sprintf("Topic %s already exists", topic))
		default:
			log.Error("KAFKA", fmt.Sprintf("Error creating topic %s: %v", topic, err))
			failed = append(failed, topic)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("could not create topics %v", failed)
	}
	return nil
}
