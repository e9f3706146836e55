// Package notify публикует уведомления пользователей из таблицы-outbox в шину событий.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher отправляет сообщение в тему шины событий.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close()
}

// NATSPublisher публикует сообщения в NATS.
type NATSPublisher struct {
	conn *nats.Conn
}

// ConnectNATS подключается к серверу NATS с автоматическим переподключением.
func ConnectNATS(url string, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("dreamsaver"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish отправляет data и дожидается подтверждения записи в сокет сервера.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Close сбрасывает буфер и закрывает соединение.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

// LogPublisher пишет сообщения в лог. Используется, когда шина не настроена.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.logger.Info("notification", zap.String("subject", subject), zap.ByteString("payload", data))
	return nil
}

func (p *LogPublisher) Close() {}
