package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/diagnosis/luxsuv-portal/internal/admin"
	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator dashboard",
	}
	cmd.AddCommand(
		newAdminLoginCmd(a),
		newAdminOTPCmd(a),
		newAdminLogoutCmd(a),
		newAdminUsersCmd(a),
		newAdminBookingsCmd(a),
		newAdminStatsCmd(a),
		newAdminCancelCmd(a),
		newAdminDeleteUserCmd(a),
		newAdminUpdateUserCmd(a),
	)
	return cmd
}

func newAdminLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check the admin password and send an OTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.ask(&email, "Email"); err != nil {
				return err
			}
			if err := a.ask(&password, "Password"); err != nil {
				return err
			}
			if err := a.adminService().Login(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Password accepted. Run `cabctl admin otp` with the code you received.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password (prompted when omitted)")
	return cmd
}

func newAdminOTPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "otp [code]",
		Short: "Complete the admin login with the emailed OTP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				code = args[0]
			}
			if err := a.ask(&code, "OTP"); err != nil {
				return err
			}
			if err := a.adminService().VerifyOTP(cmd.Context(), code); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Admin login complete")
			return nil
		},
	}
}

func newAdminLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the admin token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.adminService().Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Admin logged out")
			return nil
		},
	}
}

func newAdminUsersCmd(a *app) *cobra.Command {
	var opts apiclient.ListOptions
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, err := a.adminService().Users(cmd.Context(), &opts)
			if err != nil {
				return err
			}
			return a.emit(users, func(io.Writer) {
				a.table(func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tUSERNAME\tNAME\tEMAIL\tMOBILE\tJOINED")
					for _, u := range users {
						joined := ""
						if !u.CreatedAt.IsZero() {
							joined = u.CreatedAt.Format(domain.DateLayout)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Name, u.Email, u.Mobile, joined)
					}
				})
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Page, "page", 0, "page number")
	f.IntVar(&opts.Limit, "limit", 0, "page size")
	f.StringVar(&opts.Search, "search", "", "search text")
	return cmd
}

func newAdminBookingsCmd(a *app) *cobra.Command {
	var (
		status, when, sortBy string
		filter               admin.Filter
	)
	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "List bookings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, ok := domain.ParseBookingStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q, want one of %s", status, statusList())
				}
				filter.Status = st
			}
			w, ok := admin.ParseWhen(when)
			if !ok {
				return fmt.Errorf("--when must be all, upcoming or past")
			}
			filter.When = w
			filter.SortBy = admin.SortKey(sortBy)

			list, err := a.adminService().Bookings(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.emit(list, func(out io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(out, "No bookings found")
					return
				}
				a.table(func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "ID\tDATE\tTIME\tFROM\tTO\tVEHICLE\tPRICE\tCUSTOMER\tMOBILE\tSTATUS")
					for _, b := range list {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
							b.ID, b.TravelDate, b.TravelTime, b.Pickup, b.Drop, vehicleLabel(b.VehicleType),
							catalog.FormatPrice(b.Price), b.Name, b.Mobile, b.Status)
					}
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "only bookings with this status: "+statusList())
	f.StringVar(&when, "when", "all", "all, upcoming or past")
	f.StringVar(&filter.Search, "search", "", "search id, name, email, mobile or places")
	f.StringVar(&sortBy, "sort", string(admin.SortTravelDate), "travelDate, bookingDate, price or name")
	f.BoolVar(&filter.Desc, "desc", false, "sort descending")
	return cmd
}

func statusList() string {
	names := make([]string, 0, 6)
	for _, st := range domain.BookingStatuses() {
		names = append(names, string(st))
	}
	return strings.Join(names, ", ")
}

func vehicleLabel(t string) string {
	if v, ok := catalog.Match(t); ok {
		return v.Type
	}
	return t
}

func newAdminStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Dashboard totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.adminService().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(st, func(out io.Writer) {
				fmt.Fprintf(out, "Users:     %d\n", st.TotalUsers)
				fmt.Fprintf(out, "Bookings:  %d (%d upcoming, %d past)\n", st.TotalBookings, st.Upcoming, st.Past)
				fmt.Fprintf(out, "Revenue:   %s\n", catalog.FormatPrice(st.Revenue))

				vehicles := make([]string, 0, len(st.ByVehicle))
				for v := range st.ByVehicle {
					vehicles = append(vehicles, v)
				}
				sort.Strings(vehicles)
				parts := make([]string, 0, len(vehicles))
				for _, v := range vehicles {
					parts = append(parts, fmt.Sprintf("%s %d", v, st.ByVehicle[v]))
				}
				fmt.Fprintf(out, "Vehicles:  %s\n", strings.Join(parts, ", "))

				if len(st.ByMonth) > 0 {
					a.table(func(tw *tabwriter.Writer) {
						fmt.Fprintln(tw, "MONTH\tBOOKINGS\tREVENUE")
						for _, m := range st.ByMonth {
							fmt.Fprintf(tw, "%s\t%d\t%s\n", m.Month, m.Bookings, catalog.FormatPrice(m.Revenue))
						}
					})
				}
			})
		},
	}
}

func newAdminCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <booking-id>",
		Short: "Cancel a booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.adminService().CancelBooking(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Booking %s cancelled\n", args[0])
			return nil
		},
	}
}

func newAdminDeleteUserCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-user <user-id>",
		Short: "Delete a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := a.prompt(fmt.Sprintf("Delete user %s? Type yes to confirm", args[0]))
				if err != nil {
					return err
				}
				if !strings.EqualFold(answer, "yes") {
					fmt.Fprintln(a.out, "Aborted")
					return nil
				}
			}
			if err := a.adminService().DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "User %s deleted\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newAdminUpdateUserCmd(a *app) *cobra.Command {
	var username, name, email, mobile string
	cmd := &cobra.Command{
		Use:   "update-user <user-id>",
		Short: "Edit a user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.UserPatch
			f := cmd.Flags()
			if f.Changed("username") {
				patch.Username = &username
			}
			if f.Changed("name") {
				patch.Name = &name
			}
			if f.Changed("email") {
				patch.Email = &email
			}
			if f.Changed("mobile") {
				patch.Mobile = &mobile
			}

			u, err := a.adminService().UpdateUser(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return a.emit(u, func(out io.Writer) {
				fmt.Fprintf(out, "Updated %s: %s <%s> %s\n", u.ID, u.Name, u.Email, u.Mobile)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&username, "username", "", "new username")
	f.StringVar(&name, "name", "", "new name")
	f.StringVar(&email, "email", "", "new email")
	f.StringVar(&mobile, "mobile", "", "new mobile number")
	return cmd
}
