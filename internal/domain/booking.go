package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingUpcoming  BookingStatus = "upcoming"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingPast      BookingStatus = "past"
)

var bookingStatuses = []BookingStatus{
	BookingPending, BookingUpcoming, BookingConfirmed,
	BookingCompleted, BookingCancelled, BookingPast,
}

func BookingStatuses() []BookingStatus {
	out := make([]BookingStatus, len(bookingStatuses))
	copy(out, bookingStatuses)
	return out
}

// ParseBookingStatus accepts any casing plus the "canceled" spelling.
func ParseBookingStatus(s string) (BookingStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "canceled" {
		return BookingCancelled, true
	}
	for _, st := range bookingStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Booking is the backend's booking record. The client never mutates status;
// it only infers "past" locally for filtering.
type Booking struct {
	ID          string        `json:"bookingId"`
	TravelDate  string        `json:"travelDate"`
	TravelTime  string        `json:"travelTime"`
	VehicleType string        `json:"vehicleType"`
	Passengers  int           `json:"passengers"`
	Pickup      string        `json:"pickupLocation"`
	Drop        string        `json:"dropLocation"`
	Price       int           `json:"price"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Mobile      string        `json:"mobile"`
	Status      BookingStatus `json:"status"`
	BookingDate time.Time     `json:"bookingDate"`
}

// UnmarshalJSON also accepts the "_id" and "id" keys some backend routes use.
func (b *Booking) UnmarshalJSON(data []byte) error {
	type plain Booking
	var aux struct {
		plain
		MongoID string `json:"_id"`
		AltID   string `json:"id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*b = Booking(aux.plain)
	if b.ID == "" {
		b.ID = aux.MongoID
	}
	if b.ID == "" {
		b.ID = aux.AltID
	}
	if st, ok := ParseBookingStatus(aux.Status); ok {
		b.Status = st
	} else {
		b.Status = BookingStatus(strings.ToLower(aux.Status))
	}
	return nil
}

// TravelAt parses the travel date and time in loc. A missing time counts as
// midnight.
func (b Booking) TravelAt(loc *time.Location) (time.Time, bool) {
	date := strings.TrimSpace(b.TravelDate)
	if len(date) > len(DateLayout) {
		date = date[:len(DateLayout)] // tolerate ISO timestamps
	}
	clock := strings.TrimSpace(b.TravelTime)
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsPast reports whether the trip date is before today. Bookings the backend
// already marked past, completed or cancelled count as past too.
func (b Booking) IsPast(now time.Time) bool {
	switch b.Status {
	case BookingPast, BookingCompleted, BookingCancelled:
		return true
	}
	at, ok := b.TravelAt(now.Location())
	if !ok {
		return false
	}
	return at.Before(startOfDay(now))
}

// IsUpcoming is the complement of IsPast for bookings that are still live.
func (b Booking) IsUpcoming(now time.Time) bool {
	return !b.IsPast(now)
}

// Matches reports whether b was booked for the given criteria and mobile.
func (b Booking) Matches(c SearchCriteria, mobile string) bool {
	if mobile != "" && b.Mobile != "" && b.Mobile != mobile {
		return false
	}
	if !SameLocation(b.Pickup, c.Pickup) || !SameLocation(b.Drop, c.Drop) {
		return false
	}
	if c.DepartureDate != "" && !strings.HasPrefix(b.TravelDate, c.DepartureDate) {
		return false
	}
	if c.DepartureTime != "" && b.TravelTime != "" && b.TravelTime != c.DepartureTime {
		return false
	}
	return true
}
