package apiclient

import (
	"context"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/domain"
)

const pathContact = "/api/contact/store"

// DefaultContactTimeout is the ceiling for the contact form client when the
// configuration does not set one.
const DefaultContactTimeout = 10 * time.Second

// NewContactClient returns a Client for the auxiliary contact endpoint. Unlike
// the main client it always carries a fixed timeout.
func NewContactClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultContactTimeout
	}
	return New(baseURL, WithTimeout(timeout))
}

func (c *Client) StoreContact(ctx context.Context, msg domain.ContactMessage) error {
	return c.post(ctx, "store contact", pathContact, ScopeNone, msg, nil)
}
