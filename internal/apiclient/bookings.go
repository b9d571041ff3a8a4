package apiclient

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/diagnosis/luxsuv-portal/internal/domain"
)

const (
	pathCreateBooking  = "/api/auth/create"
	pathAvailableTaxis = "/api/auth/available-taxis"
	pathSearchBookings = "/api/auth/search-bookings"
	pathCancelBooking  = "/api/bookings/cancel/"
)

// CreateBookingRequest is the booking payload. VehicleType must already be the
// backend enum value (see catalog.BackendType).
type CreateBookingRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Mobile      string `json:"mobile"`
	UserID      string `json:"userId,omitempty"`
	Pickup      string `json:"pickupLocation"`
	Drop        string `json:"dropLocation"`
	TravelDate  string `json:"travelDate"`
	TravelTime  string `json:"travelTime"`
	TravelType  string `json:"travelType"`
	VehicleType string `json:"vehicleType"`
	Passengers  int    `json:"passengers"`
	Price       int    `json:"price"`
}

// CreateBookingResponse carries the canonical booking when the backend sends
// one. Older deployments only answer {success: true}.
type CreateBookingResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Booking   *domain.Booking `json:"booking,omitempty"`
	BookingID string          `json:"bookingId,omitempty"`
}

func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateBookingResponse, error) {
	var out CreateBookingResponse
	if err := c.post(ctx, "create booking", pathCreateBooking, ScopeNone, req, &out); err != nil {
		return nil, err
	}
	if out.Booking != nil && out.Booking.ID == "" {
		out.Booking.ID = out.BookingID
	}
	return &out, nil
}

// Availability is one vehicle type the backend reports as free.
type Availability struct {
	VehicleType string `json:"vehicleType"`
	Price       int    `json:"price,omitempty"`
	Seats       int    `json:"seats,omitempty"`
	Count       int    `json:"count,omitempty"`
}

func (a *Availability) UnmarshalJSON(data []byte) error {
	var aux struct {
		VehicleType string `json:"vehicleType"`
		Type        string `json:"type"`
		TaxiType    string `json:"taxiType"`
		Price       int    `json:"price"`
		Seats       int    `json:"seats"`
		Seating     int    `json:"seatingCapacity"`
		Count       int    `json:"count"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.VehicleType = firstNonEmpty(aux.VehicleType, aux.Type, aux.TaxiType)
	a.Price = aux.Price
	a.Seats = aux.Seats
	if a.Seats == 0 {
		a.Seats = aux.Seating
	}
	a.Count = aux.Count
	return nil
}

// AvailableTaxis queries free vehicles for the criteria. Guests may search, so
// the user token is sent only when present. The backend names the list either
// availableTaxis or availableVehicles; both are accepted.
func (c *Client) AvailableTaxis(ctx context.Context, criteria domain.SearchCriteria) ([]Availability, error) {
	var out struct {
		AvailableTaxis    []Availability `json:"availableTaxis"`
		AvailableVehicles []Availability `json:"availableVehicles"`
	}
	if err := c.post(ctx, "available taxis", pathAvailableTaxis, ScopeUserOptional, criteria, &out); err != nil {
		return nil, err
	}
	if out.AvailableTaxis != nil {
		return out.AvailableTaxis, nil
	}
	if out.AvailableVehicles != nil {
		return out.AvailableVehicles, nil
	}
	return []Availability{}, nil
}

type SearchBookingsRequest struct {
	domain.SearchCriteria
	Mobile string `json:"mobile,omitempty"`
}

// SearchBookings looks bookings up by trip criteria.
func (c *Client) SearchBookings(ctx context.Context, req SearchBookingsRequest) ([]domain.Booking, error) {
	var out struct {
		Bookings []domain.Booking `json:"bookings"`
	}
	if err := c.post(ctx, "search bookings", pathSearchBookings, ScopeNone, req, &out); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

// CancelBooking cancels a booking with the admin token.
func (c *Client) CancelBooking(ctx context.Context, id string) error {
	return c.post(ctx, "cancel booking", pathCancelBooking+url.PathEscape(id), ScopeAdmin, nil, nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
