package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "nearme.notify."

// Subject is the NATS subject events for userID are published on.
func Subject(userID string) string {
	// '.' and wildcards are token syntax in NATS subjects
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return subjectPrefix + r.Replace(userID)
}

// NATSNotifier publishes events as JSON on Subject(e.UserID).
type NATSNotifier struct {
	nc *nats.Conn
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc}
}

func (n *NATSNotifier) Notify(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := nats.NewMsg(Subject(e.UserID))
	msg.Data = data
	msg.Header.Set("Nearme-Event", string(e.Type))
	if err := n.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() error {
	return n.nc.Drain()
}
