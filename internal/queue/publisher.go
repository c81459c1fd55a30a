package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes AuthEvents to the auth.events queue.  The connection
// is opened lazily and reopened after the broker drops it.  Errors are
// logged and returned so callers can ignore them without interrupting the
// request.
type Publisher struct {
    url   string
    queue string
    log   *slog.Logger

    mu       sync.Mutex
    conn     *amqp.Connection
    ch       *amqp.Channel
    nextDial time.Time // no dial attempts before this after a failure
}

// dialTimeout bounds how long a request can wait on an unreachable broker.
const (
    dialTimeout = 2 * time.Second
    redialPause = 5 * time.Second
)

// NewPublisher returns a Publisher for the broker at url.  Nothing is
// dialed until the first Publish.
func NewPublisher(url string, log *slog.Logger) *Publisher {
    if log == nil {
        log = slog.Default()
    }
    return &Publisher{url: url, queue: AuthEventsQueue, log: log}
}

// Publish marshals ev and publishes it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, ev AuthEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        p.log.WarnContext(ctx, "rabbitmq: channel unavailable", "error", err)
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        Type:         ev.Type,
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        pub,
    ); err != nil {
        p.log.WarnContext(ctx, "rabbitmq: publish failed", "error", err, "event_type", ev.Type)
        p.reset()
        return err
    }
    return nil
}

// channel returns the open channel, dialing and declaring the queue when
// needed.  Callers hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    if p.url == "" {
        return nil, errors.New("rabbitmq url is empty")
    }
    if time.Now().Before(p.nextDial) {
        return nil, errors.New("rabbitmq unavailable, waiting before redial")
    }

    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Dial:      amqp.DefaultDial(dialTimeout),
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
    })
    if err != nil {
        p.nextDial = time.Now().Add(redialPause)
        return nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil {
        return nil
    }
    err := p.conn.Close()
    p.conn, p.ch = nil, nil
    if errors.Is(err, amqp.ErrClosed) {
        return nil
    }
    return err
}
