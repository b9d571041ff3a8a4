package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/spf13/cobra"
)

var errNoOTP = errors.New("booking abandoned: no OTP entered")

func criteriaFlags(cmd *cobra.Command, c *domain.SearchCriteria) {
	f := cmd.Flags()
	f.StringVar(&c.Pickup, "from", "", "pickup location")
	f.StringVar(&c.Drop, "to", "", "drop-off location")
	f.StringVar(&c.DepartureDate, "date", "", "travel date (YYYY-MM-DD)")
	f.StringVar(&c.DepartureTime, "time", "", "departure time on a half-hour slot (HH:MM)")
	f.IntVar(&c.Passengers, "passengers", 1, "number of passengers")
	f.StringVar(&c.TravelType, "travel-type", domain.TravelOneWay, "travel type")
}

func newSearchCmd(a *app) *cobra.Command {
	var c domain.SearchCriteria
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List vehicles available for a trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.newFlow().Search(cmd.Context(), c)
			if err != nil {
				return err
			}
			return a.emit(res, func(io.Writer) { a.printVehicles(res) })
		},
	}
	criteriaFlags(cmd, &c)
	return cmd
}

func (a *app) printVehicles(res flow.SearchResult) {
	if res.Source == flow.SourceFallback {
		fmt.Fprintln(a.out, "Live availability is unavailable right now. Showing our standard fleet.")
	}
	if len(res.Vehicles) == 0 {
		fmt.Fprintln(a.out, "No vehicles available for this trip.")
		return
	}
	a.table(func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "VEHICLE\tSEATS\tPRICE\tTRANSMISSION\tMILEAGE\tFEATURES")
		for _, v := range res.Vehicles {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
				v.Type, v.Seats, catalog.FormatPrice(v.Price), v.Transmission, v.Mileage, strings.Join(v.Features, ", "))
		}
	})
}

type bookOptions struct {
	criteria domain.SearchCriteria
	vehicle  string
	mobile   string
	name     string
	email    string
	otp      string
}

func newBookCmd(a *app) *cobra.Command {
	var o bookOptions
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Search, verify your mobile number and book a cab",
		Long: "Runs the whole booking flow. Anything not given as a flag is asked for;\n" +
			"the one-time password sent to your mobile is always read from the terminal\n" +
			"unless --otp is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.book(cmd, &o)
		},
	}
	criteriaFlags(cmd, &o.criteria)
	f := cmd.Flags()
	f.StringVar(&o.vehicle, "vehicle", "", "vehicle to book (Hatchback, Sedan, SUV, Prime SUV)")
	f.StringVar(&o.mobile, "mobile", "", "10-digit mobile number")
	f.StringVar(&o.name, "name", "", "your name, for new customers")
	f.StringVar(&o.email, "email", "", "your email, for new customers")
	f.StringVar(&o.otp, "otp", "", "one-time password, if already received")
	return cmd
}

func (a *app) book(cmd *cobra.Command, o *bookOptions) error {
	ctx := cmd.Context()
	f := a.newFlow()

	res, err := f.Search(ctx, o.criteria)
	if err != nil {
		return err
	}
	if !a.jsonOut {
		a.printVehicles(res)
	}
	if len(res.Vehicles) == 0 {
		return nil
	}

	if err := a.ask(&o.vehicle, "Vehicle"); err != nil {
		return err
	}
	if _, err := f.SelectVehicle(ctx, o.vehicle); err != nil {
		return err
	}

	if err := a.ask(&o.mobile, "Mobile number"); err != nil {
		return err
	}
	check, err := f.CheckIdentity(ctx, o.mobile)
	if err != nil {
		return err
	}
	if check.NeedsDetails {
		if err := a.ask(&o.name, "Name"); err != nil {
			return err
		}
		if err := a.ask(&o.email, "Email"); err != nil {
			return err
		}
		if _, err := f.SubmitDetails(ctx, o.name, o.email); err != nil {
			return err
		}
	} else if check.Identity != nil && !a.jsonOut {
		fmt.Fprintf(a.out, "Welcome back, %s\n", check.Identity.Name)
	}

	if err := f.RequestOTP(ctx); err != nil {
		return err
	}
	if !a.jsonOut {
		fmt.Fprintln(a.out, "OTP sent to your mobile number.")
	}
	if err := a.verify(cmd, f, o.otp); err != nil {
		return err
	}

	b, err := f.CreateBooking(ctx)
	if err != nil {
		return err
	}
	return a.emit(b, func(out io.Writer) {
		fmt.Fprintf(out, "Booking confirmed: %s\n", b.ID)
		fmt.Fprintf(out, "  %s -> %s on %s at %s\n", b.Pickup, b.Drop, b.TravelDate, b.TravelTime)
		fmt.Fprintf(out, "  %s, %d passenger(s), %s\n", b.VehicleType, b.Passengers, catalog.FormatPrice(b.Price))
	})
}

// verify asks for the OTP until the server accepts it. Rejected or
// malformed codes are reported and asked for again; an empty line or the end
// of input gives up.
func (a *app) verify(cmd *cobra.Command, f *flow.Flow, otp string) error {
	for {
		if otp == "" {
			line, err := a.prompt("OTP (empty to give up)")
			if err != nil || line == "" {
				return errNoOTP
			}
			otp = line
		}
		err := f.VerifyOTP(cmd.Context(), otp)
		if err == nil {
			return nil
		}
		var apiErr *apiclient.APIError
		var verrs domain.ValidationErrors
		if !errors.As(err, &apiErr) && !errors.As(err, &verrs) {
			return err
		}
		report(a.errOut, err)
		otp = ""
	}
}
