package api

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "time"

    "github.com/google/uuid"
    "github.com/segmentio/kafka-go"
)

type messageWriter interface {
    WriteMessages(ctx context.Context, msgs ...kafka.Message) error
    Close() error
}

type messageReader interface {
    ReadMessage(ctx context.Context) (kafka.Message, error)
    Close() error
}

// KafkaBroker publishes plan events to a topic keyed by voyage id and
// consumes the same topic into a local Broker for this replica's clients.
type KafkaBroker struct {
    local  *Broker
    w      messageWriter
    r      messageReader
    cancel context.CancelFunc
    done   chan struct{}
}

// NewKafkaBroker uses a per-process consumer group so every replica sees
// every event.
func NewKafkaBroker(brokers []string, topic string) *KafkaBroker {
    w := &kafka.Writer{
        Addr:         kafka.TCP(brokers...),
        Topic:        topic,
        Balancer:     &kafka.Hash{},
        RequiredAcks: kafka.RequireOne,
    }
    r := kafka.NewReader(kafka.ReaderConfig{
        Brokers:     brokers,
        GroupID:     "voyageopt-api-" + uuid.NewString(),
        Topic:       topic,
        StartOffset: kafka.LastOffset,
        MinBytes:    1,
        MaxBytes:    10e6,
        MaxWait:     500 * time.Millisecond,
    })
    return newKafkaBroker(w, r)
}

func newKafkaBroker(w messageWriter, r messageReader) *KafkaBroker {
    ctx, cancel := context.WithCancel(context.Background())
    b := &KafkaBroker{local: NewBroker(), w: w, r: r, cancel: cancel, done: make(chan struct{})}
    go b.consume(ctx)
    return b
}

func (b *KafkaBroker) consume(ctx context.Context) {
    defer close(b.done)
    for {
        m, err := b.r.ReadMessage(ctx)
        if err != nil {
            if ctx.Err() != nil || errors.Is(err, context.Canceled) { return }
            log.Printf("broker: kafka read: %v", err)
            select {
            case <-ctx.Done():
                return
            case <-time.After(time.Second):
            }
            continue
        }
        var evt SSEEvent
        if err := json.Unmarshal(m.Value, &evt); err != nil {
            log.Printf("broker: kafka decode key=%s: %v", m.Key, err)
            continue
        }
        b.local.Publish(string(m.Key), evt)
    }
}

func (b *KafkaBroker) Subscribe(voyageID string) chan SSEEvent { return b.local.Subscribe(voyageID) }

func (b *KafkaBroker) Unsubscribe(voyageID string, ch chan SSEEvent) { b.local.Unsubscribe(voyageID, ch) }

func (b *KafkaBroker) Publish(voyageID string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    if err := b.w.WriteMessages(ctx, kafka.Message{Key: []byte(voyageID), Value: data, Time: time.Now()}); err != nil {
        log.Printf("broker: kafka publish voyage=%s: %v", voyageID, err)
    }
}

func (b *KafkaBroker) Close() error {
    b.cancel()
    <-b.done
    return errors.Join(b.w.Close(), b.r.Close())
}
