package broker

import (
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/config"
)

type pooledChannel struct {
	channel     amqpChannel
	notifyClose chan *amqp.Error
}

// amqpConn adapts *amqp.Connection to amqpConnection.
type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

var newConnection = func(settings *config.BrokerSettings, log *zap.Logger) (amqpConnection, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	// Set up a channel to handle connection close notifications
	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			log.Warn("RabbitMQ connection closed", zap.Error(err))
		}
	}()

	return amqpConn{conn}, nil
}

func (r *rabbitMqBroker) connectAndInitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Close existing connection if it exists
	if r.connection != nil && !r.connection.IsClosed() {
		_ = r.connection.Close()
	}

	// Establish a new connection
	connection, err := newConnection(r.settings, r.log)
	if err != nil {
		return err
	}
	r.connection = connection

	// Clear the existing channel pool
	r.drainPool()

	// Reinitialize the channel pool
	for i := 0; i < r.settings.PoolSize; i++ {
		channel, err := connection.Channel()
		if err != nil {
			return err
		}
		r.channelPool <- &pooledChannel{
			channel:     channel,
			notifyClose: channel.NotifyClose(make(chan *amqp.Error, 1)),
		}
	}

	r.log.Info("RabbitMQ connection and channel pool initialized", zap.Int("pool_size", r.settings.PoolSize))
	return nil
}

// drainPool closes every idle pooled channel. Callers hold r.mu.
func (r *rabbitMqBroker) drainPool() {
	for {
		select {
		case pooledChan := <-r.channelPool:
			_ = pooledChan.channel.Close()
		default:
			return
		}
	}
}

func (r *rabbitMqBroker) recoverConnection() {
	for {
		select {
		case <-r.reconnectTicker.C:
			r.mu.Lock()
			lost := r.connection == nil || r.connection.IsClosed()
			r.mu.Unlock()
			if lost {
				r.log.Info("Attempting to reconnect to RabbitMQ")
				if err := r.connectAndInitialize(); err != nil {
					r.log.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
				} else {
					r.log.Info("Reconnected to RabbitMQ")
				}
			}
		case <-r.stopReconnect:
			r.log.Debug("Stopping RabbitMQ connection recovery")
			return
		}
	}
}

func (r *rabbitMqBroker) getChannel() (*pooledChannel, error) {
	for {
		select {
		case pooledChan := <-r.channelPool:
			select {
			case err := <-pooledChan.notifyClose:
				// Channel is closed, discard it
				r.log.Debug("Discarding closed channel", zap.Error(err))
				continue
			default:
				return pooledChan, nil
			}
		default:
			// Create a new channel if none are available
			r.mu.Lock()
			connection := r.connection
			r.mu.Unlock()
			if connection == nil {
				return nil, fmt.Errorf("rabbitmq is not connected")
			}
			channel, err := connection.Channel()
			if err != nil {
				return nil, err
			}
			return &pooledChannel{
				channel:     channel,
				notifyClose: channel.NotifyClose(make(chan *amqp.Error, 1)),
			}, nil
		}
	}
}

func (r *rabbitMqBroker) releaseChannel(pooledChan *pooledChannel) {
	select {
	case err := <-pooledChan.notifyClose:
		// Channel is closed, discard it
		r.log.Debug("Discarding closed channel", zap.Error(err))
		return
	default:
		// Channel is valid, return it to the pool
		select {
		case r.channelPool <- pooledChan:
		default:
			// Pool is full, close the channel
			_ = pooledChan.channel.Close()
		}
	}
}
