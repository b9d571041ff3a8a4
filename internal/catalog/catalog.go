// Package catalog holds the static vehicle reference catalog and the rules
// for matching backend vehicle-type strings against it.
package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// VehicleOption is one bookable vehicle class.
type VehicleOption struct {
	Type         string   `json:"type"`
	Seats        int      `json:"seats"`
	Price        int      `json:"price"`
	Features     []string `json:"features"`
	Mileage      string   `json:"mileage"`
	Transmission string   `json:"transmission"`
}

const (
	Hatchback = "Hatchback"
	Sedan     = "Sedan"
	SUV       = "SUV"
	PrimeSUV  = "Prime SUV"
)

var vehicles = []VehicleOption{
	{
		Type:         Hatchback,
		Seats:        4,
		Price:        1500,
		Features:     []string{"AC", "Music System", "Compact Boot"},
		Mileage:      "20 km/l",
		Transmission: "Manual",
	},
	{
		Type:         Sedan,
		Seats:        4,
		Price:        2000,
		Features:     []string{"AC", "Music System", "Spacious Boot", "Reclining Seats"},
		Mileage:      "17 km/l",
		Transmission: "Manual",
	},
	{
		Type:         SUV,
		Seats:        6,
		Price:        2800,
		Features:     []string{"AC", "Music System", "Roof Carrier", "Extra Legroom"},
		Mileage:      "14 km/l",
		Transmission: "Manual",
	},
	{
		Type:         PrimeSUV,
		Seats:        7,
		Price:        3500,
		Features:     []string{"Dual AC", "Premium Interiors", "Roof Carrier", "Charging Points"},
		Mileage:      "12 km/l",
		Transmission: "Automatic",
	},
}

// backendTypes maps catalog labels to the enumerated values the booking API
// accepts. Every catalog entry must appear here.
var backendTypes = map[string]string{
	Hatchback: "Hatchback",
	Sedan:     "Sedan",
	SUV:       "SUV",
	PrimeSUV:  "Prime_SUV",
}

var folder = cases.Fold()

// All returns a copy of the catalog in display order.
func All() []VehicleOption {
	out := make([]VehicleOption, len(vehicles))
	for i, v := range vehicles {
		out[i] = v.clone()
	}
	return out
}

// Normalize folds case and drops whitespace, hyphens and underscores, so
// "PRIME-SUV", "prime_suv" and "Prime SUV" all compare equal.
func Normalize(s string) string {
	folded := folder.String(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Match finds the catalog entry for a backend-supplied type string.
func Match(vehicleType string) (VehicleOption, bool) {
	key := Normalize(vehicleType)
	if key == "" {
		return VehicleOption{}, false
	}
	for _, v := range vehicles {
		if Normalize(v.Type) == key {
			return v.clone(), true
		}
	}
	return VehicleOption{}, false
}

// BackendType returns the API enum value for a catalog label (or any spelling
// that normalizes to one). Unknown labels are an error, never passed through.
func BackendType(label string) (string, error) {
	v, ok := Match(label)
	if !ok {
		return "", fmt.Errorf("unknown vehicle type %q", label)
	}
	bt, ok := backendTypes[v.Type]
	if !ok {
		return "", fmt.Errorf("vehicle type %q has no backend mapping", v.Type)
	}
	return bt, nil
}

// ForPassengers returns the catalog entries that seat at least n people. If
// none do, the whole catalog is returned so a search never comes back empty.
func ForPassengers(n int) []VehicleOption {
	var out []VehicleOption
	for _, v := range vehicles {
		if v.Seats >= n {
			out = append(out, v.clone())
		}
	}
	if len(out) == 0 {
		return All()
	}
	return out
}

var printer = message.NewPrinter(language.English)

// FormatPrice renders a rupee amount with thousands grouping.
func FormatPrice(amount int) string {
	return printer.Sprintf("₹%d", amount)
}

func (v VehicleOption) clone() VehicleOption {
	v.Features = append([]string(nil), v.Features...)
	return v
}
