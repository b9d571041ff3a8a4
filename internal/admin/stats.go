package admin

import (
	"context"
	"sort"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"golang.org/x/sync/errgroup"
)

type MonthCount struct {
	Month    string `json:"month"` // YYYY-MM
	Bookings int    `json:"bookings"`
	Revenue  int    `json:"revenue"`
}

type Stats struct {
	TotalUsers    int                          `json:"totalUsers"`
	TotalBookings int                          `json:"totalBookings"`
	Upcoming      int                          `json:"upcoming"`
	Past          int                          `json:"past"`
	Revenue       int                          `json:"revenue"`
	ByStatus      map[domain.BookingStatus]int `json:"byStatus"`
	ByVehicle     map[string]int               `json:"byVehicle"`
	ByMonth       []MonthCount                 `json:"byMonth"`
}

// Stats loads users, current and past bookings in parallel and summarizes
// them for the dashboard.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if _, err := s.authorize(ctx); err != nil {
		return Stats{}, err
	}
	var (
		users         []domain.User
		current, past []domain.Booking
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.api.AdminUsers(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		current, err = s.api.AdminBookings(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		past, err = s.api.AdminPastBookings(gctx, nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, s.authErr(ctx, err)
	}

	st := Summarize(mergeBookings(current, past), s.now())
	st.TotalUsers = len(users)
	return st, nil
}

// mergeBookings joins lists and drops repeated ids.
func mergeBookings(lists ...[]domain.Booking) []domain.Booking {
	seen := make(map[string]bool)
	var out []domain.Booking
	for _, list := range lists {
		for _, b := range list {
			if b.ID != "" {
				if seen[b.ID] {
					continue
				}
				seen[b.ID] = true
			}
			out = append(out, b)
		}
	}
	return out
}

// Summarize counts bookings. Cancelled bookings are counted but earn no
// revenue.
func Summarize(bookings []domain.Booking, now time.Time) Stats {
	st := Stats{
		TotalBookings: len(bookings),
		ByStatus:      make(map[domain.BookingStatus]int),
		ByVehicle:     make(map[string]int),
	}
	months := make(map[string]*MonthCount)

	for _, b := range bookings {
		if b.IsPast(now) {
			st.Past++
		} else {
			st.Upcoming++
		}
		if b.Status != "" {
			st.ByStatus[b.Status]++
		}

		vehicle := b.VehicleType
		if v, ok := catalog.Match(b.VehicleType); ok {
			vehicle = v.Type
		}
		if vehicle != "" {
			st.ByVehicle[vehicle]++
		}

		revenue := b.Price
		if b.Status == domain.BookingCancelled {
			revenue = 0
		}
		st.Revenue += revenue

		if at, ok := b.TravelAt(now.Location()); ok {
			key := at.Format("2006-01")
			mc, ok := months[key]
			if !ok {
				mc = &MonthCount{Month: key}
				months[key] = mc
			}
			mc.Bookings++
			mc.Revenue += revenue
		}
	}

	st.ByMonth = make([]MonthCount, 0, len(months))
	for _, mc := range months {
		st.ByMonth = append(st.ByMonth, *mc)
	}
	sort.Slice(st.ByMonth, func(i, j int) bool { return st.ByMonth[i].Month < st.ByMonth[j].Month })
	return st
}
