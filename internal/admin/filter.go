package admin

import (
	"sort"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/domain"
)

type When string

const (
	WhenAll      When = ""
	WhenUpcoming When = "upcoming"
	WhenPast     When = "past"
)

type SortKey string

const (
	SortTravelDate  SortKey = "travelDate"
	SortBookingDate SortKey = "bookingDate"
	SortPrice       SortKey = "price"
	SortName        SortKey = "name"
)

// Filter narrows and orders a booking list on the client. Past and upcoming
// are decided by comparing the travel date with today.
type Filter struct {
	Status domain.BookingStatus
	Search string
	When   When
	SortBy SortKey
	Desc   bool
}

func (f Filter) Apply(list []domain.Booking, now time.Time) []domain.Booking {
	needle := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]domain.Booking, 0, len(list))
	for _, b := range list {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		switch f.When {
		case WhenPast:
			if !b.IsPast(now) {
				continue
			}
		case WhenUpcoming:
			if !b.IsUpcoming(now) {
				continue
			}
		}
		if needle != "" && !matchesSearch(b, needle) {
			continue
		}
		out = append(out, b)
	}

	if f.SortBy != "" {
		less := lessFunc(f.SortBy, now.Location())
		sort.SliceStable(out, func(i, j int) bool {
			if f.Desc {
				return less(out[j], out[i])
			}
			return less(out[i], out[j])
		})
	}
	return out
}

func matchesSearch(b domain.Booking, needle string) bool {
	for _, field := range []string{b.ID, b.Name, b.Email, b.Mobile, b.Pickup, b.Drop, b.VehicleType} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func lessFunc(key SortKey, loc *time.Location) func(a, b domain.Booking) bool {
	switch key {
	case SortBookingDate:
		return func(a, b domain.Booking) bool { return a.BookingDate.Before(b.BookingDate) }
	case SortPrice:
		return func(a, b domain.Booking) bool { return a.Price < b.Price }
	case SortName:
		return func(a, b domain.Booking) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	default:
		return func(a, b domain.Booking) bool {
			ta, _ := a.TravelAt(loc)
			tb, _ := b.TravelAt(loc)
			return ta.Before(tb)
		}
	}
}

// ParseWhen accepts "", "all", "upcoming" and "past".
func ParseWhen(s string) (When, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return WhenAll, true
	case "upcoming":
		return WhenUpcoming, true
	case "past":
		return WhenPast, true
	}
	return WhenAll, false
}
