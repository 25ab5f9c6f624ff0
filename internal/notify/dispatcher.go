package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 1024
	defaultSendTimeout = 10 * time.Second
)

type DispatcherConfig struct {
	From        string
	ReplyTo     string
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Dispatcher sends emails in the background on a fixed pool of workers.
type Dispatcher struct {
	sender  Sender
	from    string
	replyTo string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	jobs   chan Email
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	d := &Dispatcher{
		sender:  sender,
		from:    cfg.From,
		replyTo: cfg.ReplyTo,
		timeout: cfg.SendTimeout,
		jobs:    make(chan Email, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for email := range d.jobs {
				d.deliver(email)
			}
		}()
	}
	return d
}

// Notify queues msg for to. It never blocks: when the queue is full or the
// dispatcher is stopped the email is dropped and logged.
func (d *Dispatcher) Notify(to string, msg Message) {
	email := Email{
		From:    d.from,
		To:      to,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: d.replyTo,
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		zap.L().Warn("email dropped, dispatcher stopped", zap.String("to", to), zap.String("subject", msg.Subject))
		return
	}
	select {
	case d.jobs <- email:
	default:
		zap.L().Error("email dropped, queue full", zap.String("to", to), zap.String("subject", msg.Subject))
	}
}

func (d *Dispatcher) deliver(email Email) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	res := d.sender.Send(ctx, email)
	if !res.Success {
		zap.L().Error("email send failed",
			zap.String("to", email.To),
			zap.String("subject", email.Subject),
			zap.String("error", res.Error),
		)
		return
	}
	zap.L().Debug("email sent", zap.String("to", email.To), zap.String("message_id", res.MessageID))
}

// Stop drains queued emails and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
