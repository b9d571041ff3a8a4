package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/luxsuv-portal/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("luxsuv-portal"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSPublisher) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// Connect returns a NATS publisher, or a no-op one when url is empty.
func Connect(url string) (Publisher, error) {
	if url == "" {
		return NoopPublisher{}, nil
	}
	return NewNATSPublisher(url)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                                { return nil }

// Recorder keeps published events in memory. Tests use it to assert on what a
// flow emitted.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Subject string
	Data    any
}

func (r *Recorder) Publish(_ context.Context, subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Subject: subject, Data: data})
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Subject)
	}
	return out
}

const (
	SearchFallback   = "portal.search.fallback"
	OTPRequested     = "portal.otp.requested"
	OTPVerified      = "portal.otp.verified"
	BookingCreated   = "portal.booking.created"
	BookingOrphaned  = "portal.booking.orphaned"
	AdminLoggedIn    = "portal.admin.login"
	BookingCancelled = "portal.booking.cancelled"
)

type SearchFallbackEvent struct {
	Pickup     string    `json:"pickup"`
	Drop       string    `json:"drop"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OTPEvent struct {
	Mobile     string    `json:"mobile"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingCreatedEvent struct {
	BookingID   string    `json:"booking_id"`
	Mobile      string    `json:"mobile"`
	VehicleType string    `json:"vehicle_type"`
	Pickup      string    `json:"pickup"`
	Drop        string    `json:"drop"`
	TravelDate  string    `json:"travel_date"`
	TravelTime  string    `json:"travel_time"`
	Price       int       `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

type BookingOrphanedEvent struct {
	Mobile     string    `json:"mobile"`
	Pickup     string    `json:"pickup"`
	Drop       string    `json:"drop"`
	TravelDate string    `json:"travel_date"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AdminLoginEvent struct {
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BookingCancelledEvent struct {
	BookingID   string    `json:"booking_id"`
	CancelledBy string    `json:"cancelled_by"`
	OccurredAt  time.Time `json:"occurred_at"`
}
