package app

import (
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func TestInitMessaging_DisabledLogsOutbox(t *testing.T) {
	logger := log.WithField("test", "messaging")
	l := ledger.New(memory.NewOrderRepository(), memory.NewOutboxRepository(), memory.NewTimelineRepository())
	defer l.Close()

	msg, err := initMessaging(config.Kafka{}, "pod-1", l, logger)
	require.NoError(t, err)
	require.Nil(t, msg.producer)
	require.Nil(t, msg.consumer)
	require.Nil(t, msg.dlq)
	require.NoError(t, msg.publisher.Publish(domain.OutboxMessage{ID: "1", AggregateID: "order-1"}))

	msg.close(logger)
}

func TestInitMessaging_UnreachableBroker(t *testing.T) {
	l := ledger.New(memory.NewOrderRepository(), memory.NewOutboxRepository(), memory.NewTimelineRepository())
	defer l.Close()

	_, err := initMessaging(config.Kafka{Brokers: []string{"127.0.0.1:1"}, Topic: "t", ClientID: "test"}, "pod-1", l, log.WithField("test", "messaging"))
	require.ErrorContains(t, err, "init kafka producer")
}

func TestMessagingClose_Nil(t *testing.T) {
	var msg *messaging
	msg.close(log.WithField("test", "messaging"))
}

func TestInstanceID(t *testing.T) {
	a, b := instanceID(), instanceID()
	require.NotEqual(t, a, b)
	require.True(t, strings.Contains(a, "-"))
}
