package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

const (
	// ExchangeNotifications direct-обменник уведомлений
	ExchangeNotifications = "notifications"
	// ExchangeAuthEvents fanout-обменник событий авторизации
	ExchangeAuthEvents = "auth.events"
	// QueueExpiry очередь уведомлений об истечении хостинга и доменов
	QueueExpiry = "notifications.expiry"
	// RoutingKeyExpiry ключ маршрутизации для QueueExpiry
	RoutingKeyExpiry = "expiry"
)

// QueueConfig очередь и её ключ маршрутизации
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// NotificationQueues очереди, которые слушает notification-sender
func NotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueExpiry, RoutingKey: RoutingKeyExpiry},
	}
}

// SetupChannel открывает канал, объявляет обменник notifications и привязывает к нему очереди.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
	}
	if err = ch.ExchangeDeclare(ExchangeNotifications, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		if _, err = ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}
		if err = ch.QueueBind(q.QueueName, q.RoutingKey, ExchangeNotifications, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}
	return ch, nil
}

// DeclareAuthEvents открывает канал и объявляет fanout-обменник событий авторизации.
// Достаточно процессам, которые только публикуют события.
func DeclareAuthEvents(conn *amqp.Connection) (*amqp.Channel, error) {
	const op = "rabbitmq.DeclareAuthEvents"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = ch.ExchangeDeclare(ExchangeAuthEvents, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

// SetupAuthEvents объявляет обменник событий авторизации и эксклюзивную очередь
// этого экземпляра. Очередь удаляется вместе с соединением.
func SetupAuthEvents(conn *amqp.Connection) (*amqp.Channel, string, error) {
	const op = "rabbitmq.SetupAuthEvents"

	ch, err := DeclareAuthEvents(conn)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	if err = ch.QueueBind(q.Name, "", ExchangeAuthEvents, false, nil); err != nil {
		_ = ch.Close()
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return ch, q.Name, nil
}
