package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultAuditLog is where the audit consumer appends events.
const DefaultAuditLog = "logs/auth-audit.log"

// StartAuditConsumer connects to RabbitMQ, declares the auth.events queue
// (durable), and appends every message to logPath as one line.  It
// reconnects with exponential backoff and returns only when ctx is done.
// A message that cannot be handled is rejected without requeue so the
// consumer keeps running.
func StartAuditConsumer(ctx context.Context, url, logPath string, log *slog.Logger) error {
    if url == "" {
        return errors.New("rabbitmq url is empty")
    }
    if log == nil {
        log = slog.Default()
    }

    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warn("audit-consumer: failed to dial broker", "error", err, "retry_in", backoff)
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = consumeLoop(ctx, conn, logPath, log)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warn("audit-consumer: consume loop ended; reconnecting", "error", err)
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string, log *slog.Logger) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warn("audit-consumer: set QoS failed", "error", err)
    }
    if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(AuthEventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := HandleAuditMessage(d.Body, logPath); err != nil {
                log.Error("audit-consumer: handle message failed", "error", err)
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// HandleAuditMessage decodes one AuthEvent and appends it to logPath.
func HandleAuditMessage(body []byte, logPath string) error {
    var ev AuthEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" {
        return errors.New("event without type")
    }
    if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(FormatAuditLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatAuditLine renders ev as a single human-friendly line ending in a
// newline.  Empty fields are omitted.
func FormatAuditLine(ev AuthEvent) string {
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] %s | outcome=%s", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, ev.Outcome)
    field := func(k, v string) {
        if v != "" {
            fmt.Fprintf(&b, " | %s=%s", k, v)
        }
    }
    field("user_id", ev.UserID)
    field("session_id", ev.SessionID)
    field("email", ev.Email)
    field("provider", ev.Provider)
    field("ip", ev.IPAddress)
    if ev.Count > 0 {
        fmt.Fprintf(&b, " | count=%d", ev.Count)
    }
    b.WriteByte('\n')
    return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
