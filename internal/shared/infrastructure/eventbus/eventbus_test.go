package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbh/cadence/internal/shared/infrastructure/eventbus"
)

type mockConsumer struct {
	eventTypes []string
	events     []*eventbus.ConsumedEvent
	err        error
}

func (m *mockConsumer) EventTypes() []string {
	return m.eventTypes
}

func (m *mockConsumer) Handle(_ context.Context, event *eventbus.ConsumedEvent) error {
	m.events = append(m.events, event)
	return m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestConsumerRegistry_Register(t *testing.T) {
	registry := eventbus.NewConsumerRegistry(testLogger())

	consumer := &mockConsumer{
		eventTypes: []string{"cadence.scheduling.conflict.detected", "cadence.connections.deactivated"},
	}
	registry.Register(consumer)

	assert.Len(t, registry.Consumers("cadence.scheduling.conflict.detected"), 1)
	assert.Len(t, registry.Consumers("cadence.connections.deactivated"), 1)
	assert.Empty(t, registry.Consumers("unknown.event.type"))
	assert.ElementsMatch(t,
		[]string{"cadence.scheduling.conflict.detected", "cadence.connections.deactivated"},
		registry.EventTypes())
}

func TestConsumerRegistry_DispatchToAll(t *testing.T) {
	registry := eventbus.NewConsumerRegistry(testLogger())

	first := &mockConsumer{eventTypes: []string{"cadence.scheduling.conflict.detected"}}
	second := &mockConsumer{eventTypes: []string{"cadence.scheduling.conflict.detected"}}
	registry.Register(first)
	registry.Register(second)

	event := &eventbus.ConsumedEvent{
		EventID:    uuid.New(),
		RoutingKey: "cadence.scheduling.conflict.detected",
		OccurredAt: time.Now(),
	}

	require.NoError(t, registry.Dispatch(context.Background(), event))
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}

func TestConsumerRegistry_DispatchContinuesOnError(t *testing.T) {
	registry := eventbus.NewConsumerRegistry(testLogger())

	failing := &mockConsumer{
		eventTypes: []string{"cadence.scheduling.conflict.detected"},
		err:        errors.New("handler broke"),
	}
	healthy := &mockConsumer{eventTypes: []string{"cadence.scheduling.conflict.detected"}}
	registry.Register(failing)
	registry.Register(healthy)

	event := &eventbus.ConsumedEvent{
		EventID:    uuid.New(),
		RoutingKey: "cadence.scheduling.conflict.detected",
	}

	err := registry.Dispatch(context.Background(), event)
	assert.Error(t, err)
	// The failing consumer must not starve the healthy one.
	assert.Len(t, healthy.events, 1)
}

func TestConsumerRegistry_DispatchNoConsumers(t *testing.T) {
	registry := eventbus.NewConsumerRegistry(testLogger())

	event := &eventbus.ConsumedEvent{RoutingKey: "nobody.listens.here"}
	assert.NoError(t, registry.Dispatch(context.Background(), event))
}

func TestInProcessEventBus_Publish(t *testing.T) {
	bus := eventbus.NewInProcessEventBus(testLogger())

	consumer := &mockConsumer{eventTypes: []string{"cadence.scheduling.conflict.detected"}}
	bus.RegisterConsumer(consumer)

	event := &eventbus.ConsumedEvent{
		EventID:       uuid.New(),
		AggregateID:   uuid.New(),
		AggregateType: "SyncConflict",
		RoutingKey:    "cadence.scheduling.conflict.detected",
		OccurredAt:    time.Now(),
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "cadence.scheduling.conflict.detected", payload))
	require.Len(t, consumer.events, 1)
	assert.Equal(t, event.EventID, consumer.events[0].EventID)
}

func TestInProcessEventBus_PublishFillsRoutingKey(t *testing.T) {
	bus := eventbus.NewInProcessEventBus(testLogger())

	consumer := &mockConsumer{eventTypes: []string{"cadence.availability.slot.status_changed"}}
	bus.RegisterConsumer(consumer)

	// Payload without a routing key: the publish parameter fills it in.
	payload := []byte(`{"slotId":"ignored"}`)
	require.NoError(t, bus.Publish(context.Background(), "cadence.availability.slot.status_changed", payload))
	require.Len(t, consumer.events, 1)
	assert.Equal(t, "cadence.availability.slot.status_changed", consumer.events[0].RoutingKey)
	assert.JSONEq(t, string(payload), string(consumer.events[0].Payload))
}

func TestInProcessEventBus_PublishBadPayload(t *testing.T) {
	bus := eventbus.NewInProcessEventBus(testLogger())

	consumer := &mockConsumer{eventTypes: []string{"cadence.scheduling.conflict.detected"}}
	bus.RegisterConsumer(consumer)

	// Garbage is logged and dropped, never surfaced to the publisher.
	require.NoError(t, bus.Publish(context.Background(), "cadence.scheduling.conflict.detected", []byte("not json")))
	assert.Empty(t, consumer.events)
}

func TestNoopPublisher(t *testing.T) {
	pub := eventbus.NewNoopPublisher()
	assert.NoError(t, pub.Publish(context.Background(), "any.key", []byte("{}")))
	assert.NoError(t, pub.Close())
}
