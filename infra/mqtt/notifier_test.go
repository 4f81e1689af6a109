package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenharbor/nursery-dispatch/core/events"
	"github.com/greenharbor/nursery-dispatch/core/model"
	"github.com/greenharbor/nursery-dispatch/infra/logger"
)

type stubToken struct{ err error }

func (t stubToken) Wait() bool                     { return true }
func (t stubToken) WaitTimeout(time.Duration) bool { return true }
func (t stubToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t stubToken) Error() error                   { return t.err }

type mockClient struct {
	published map[string][][]byte
	failures  int
}

func (m *mockClient) IsConnected() bool      { return true }
func (m *mockClient) Connect() paho.Token    { return stubToken{} }
func (m *mockClient) Disconnect(quiesce uint) {}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if m.failures > 0 {
		m.failures--
		return stubToken{err: errors.New("broker unavailable")}
	}
	if m.published == nil {
		m.published = map[string][][]byte{}
	}
	m.published[topic] = append(m.published[topic], payload.([]byte))
	return stubToken{}
}

func newTestNotifier(cli pahoClient) *PahoNotifier {
	return &PahoNotifier{cli: cli, qos: 1, maxRetries: 3, backoff: time.Millisecond, log: logger.NopLogger{}}
}

func TestSlotRestockedPublishesJSON(t *testing.T) {
	cli := &mockClient{}
	n := newTestNotifier(cli)

	ev := events.SlotRestocked{SlotID: "s1", OrderID: "o1", Quantity: 50, At: time.Now()}
	if err := n.SlotRestocked(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs := cli.published[TopicInventoryRestock]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	var got struct {
		SlotID   string `json:"slot_id"`
		OrderID  string `json:"order_id"`
		Quantity int    `json:"quantity"`
	}
	if err := json.Unmarshal(msgs[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.SlotID != "s1" || got.OrderID != "o1" || got.Quantity != 50 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDispatchCreatedRetriesTransientFailures(t *testing.T) {
	cli := &mockClient{failures: 2}
	n := newTestNotifier(cli)

	ev := events.DispatchCreated{Dispatch: model.Dispatch{ID: "d1", Driver: "ravi"}, At: time.Now()}
	if err := n.DispatchCreated(context.Background(), ev); err != nil {
		t.Fatalf("publish after retries: %v", err)
	}
	if len(cli.published[TopicDispatchCreated]) != 1 {
		t.Fatalf("expected the retried publish to land")
	}
}

func TestPublishGivesUpAfterMaxRetries(t *testing.T) {
	cli := &mockClient{failures: 10}
	n := newTestNotifier(cli)

	err := n.SlotRestocked(context.Background(), events.SlotRestocked{SlotID: "s1"})
	if err == nil {
		t.Fatal("expected publish error")
	}
}
