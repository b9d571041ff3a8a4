package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	TravelOneWay = "One Way"

	MinPassengers = 1
)

// SearchCriteria is one availability search submission. A new value is built
// for every search or edit.
type SearchCriteria struct {
	Pickup        string `json:"pickupLocation"`
	Drop          string `json:"dropLocation"`
	DepartureDate string `json:"departureDate"`
	DepartureTime string `json:"departureTime"`
	Passengers    int    `json:"passengers"`
	TravelType    string `json:"travelType"`
}

// Normalize trims free-text fields and defaults the travel type.
func (c *SearchCriteria) Normalize() {
	c.Pickup = strings.TrimSpace(c.Pickup)
	c.Drop = strings.TrimSpace(c.Drop)
	c.DepartureDate = strings.TrimSpace(c.DepartureDate)
	c.DepartureTime = strings.TrimSpace(c.DepartureTime)
	c.TravelType = strings.TrimSpace(c.TravelType)
	if c.TravelType == "" {
		c.TravelType = TravelOneWay
	}
}

// Validate checks the criteria against today's date in now's location.
func (c SearchCriteria) Validate(now time.Time) error {
	var errs ValidationErrors

	if strings.TrimSpace(c.Pickup) == "" {
		errs.add("pickupLocation", "pickup location is required")
	}
	if strings.TrimSpace(c.Drop) == "" {
		errs.add("dropLocation", "drop-off location is required")
	}
	if c.Pickup != "" && c.Drop != "" && SameLocation(c.Pickup, c.Drop) {
		errs.add("dropLocation", "pickup and drop-off locations must be different")
	}

	if c.DepartureDate == "" {
		errs.add("departureDate", "departure date is required")
	} else if d, err := time.ParseInLocation(DateLayout, c.DepartureDate, now.Location()); err != nil {
		errs.add("departureDate", "departure date must be in YYYY-MM-DD format")
	} else if d.Before(startOfDay(now)) {
		errs.add("departureDate", "departure date cannot be in the past")
	}

	if c.DepartureTime == "" {
		errs.add("departureTime", "departure time is required")
	} else if !IsTimeSlot(c.DepartureTime) {
		errs.add("departureTime", "departure time must be a half-hour slot")
	}

	if c.Passengers < MinPassengers {
		errs.add("passengers", "at least one passenger is required")
	}

	if c.TravelType != "" && c.TravelType != TravelOneWay {
		errs.add("travelType", fmt.Sprintf("travel type must be %q", TravelOneWay))
	}

	return errs.errOrNil()
}

// SameLocation compares two free-text locations ignoring case and spacing.
func SameLocation(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

var timeSlots = buildTimeSlots()

func buildTimeSlots() []string {
	slots := make([]string, 0, 48)
	for h := 0; h < 24; h++ {
		slots = append(slots, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	return slots
}

// TimeSlots returns the 48 selectable departure times, "00:00" through "23:30".
func TimeSlots() []string {
	out := make([]string, len(timeSlots))
	copy(out, timeSlots)
	return out
}

func IsTimeSlot(s string) bool {
	for _, slot := range timeSlots {
		if slot == s {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
