package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/admin"
	"github.com/diagnosis/luxsuv-portal/internal/apiclient/apiclienttest"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
)

type cli struct {
	fake *apiclienttest.Backend
	dir  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	fake := apiclienttest.New()
	t.Cleanup(fake.Close)

	dir := t.TempDir()
	t.Setenv("BACKEND_URL", fake.URL())
	t.Setenv("SESSION_STORE", "file")
	t.Setenv("SESSION_FILE", filepath.Join(dir, "session.json"))
	t.Setenv("SESSION_ID", "default")
	t.Setenv("NATS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	return &cli{fake: fake, dir: dir}
}

// exec runs one command line with stdin and returns the exit code, stdout
// and stderr.
func (c *cli) exec(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func tripArgs() []string {
	return []string{
		"--from", "Pune", "--to", "Mumbai",
		"--date", time.Now().AddDate(0, 0, 1).Format(domain.DateLayout),
		"--time", "10:00", "--passengers", "2",
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	c := newCLI(t)
	c.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "secret1")

	if code, _, errOut := c.exec(t, "", "login", "--email", "Asha@Example.com", "--password", "wrong"); code != 1 || !strings.Contains(errOut, "Invalid email or password") {
		t.Fatalf("bad password: code %d, stderr %q", code, errOut)
	}

	code, out, errOut := c.exec(t, "secret1\n", "login", "--email", "asha@example.com")
	if code != 0 {
		t.Fatalf("login: code %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "Logged in as asha@example.com") {
		t.Fatalf("login output %q", out)
	}

	_, out, _ = c.exec(t, "", "whoami")
	if !strings.Contains(out, "Logged in as asha@example.com") {
		t.Fatalf("whoami output %q", out)
	}

	code, out, _ = c.exec(t, "", "whoami", "--json")
	if code != 0 {
		t.Fatalf("whoami --json: code %d", code)
	}
	var who whoami
	if err := json.Unmarshal([]byte(out), &who); err != nil {
		t.Fatalf("whoami --json: %v", err)
	}
	if !who.Authenticated || who.Claims == nil || who.Claims.Subject != "asha@example.com" {
		t.Fatalf("unexpected whoami %+v", who)
	}

	c.exec(t, "", "logout")
	if _, out, _ = c.exec(t, "", "whoami"); !strings.Contains(out, "Not logged in") {
		t.Fatalf("whoami after logout %q", out)
	}

	before := len(c.fake.Requests("/api/auth/getuserdata"))
	code, _, errOut = c.exec(t, "", "whoami", "--remote")
	if code != 1 || !strings.Contains(errOut, "cabctl login") {
		t.Fatalf("whoami --remote after logout: code %d, stderr %q", code, errOut)
	}
	if n := len(c.fake.Requests("/api/auth/getuserdata")); n != before {
		t.Fatal("profile must not be requested without a session")
	}
}

func TestSearch_ValidationIsReportedPerField(t *testing.T) {
	c := newCLI(t)
	args := append([]string{"search"}, tripArgs()...)
	args = append(args, "--to", "pune")

	code, _, errOut := c.exec(t, "", args...)
	if code != 1 {
		t.Fatalf("code = %d", code)
	}
	if !strings.Contains(errOut, "dropLocation") {
		t.Fatalf("stderr %q", errOut)
	}
	if n := len(c.fake.Requests("/api")); n != 0 {
		t.Fatalf("invalid search reached the backend %d times", n)
	}
}

func TestSearch_Table(t *testing.T) {
	c := newCLI(t)
	code, out, errOut := c.exec(t, "", append([]string{"search"}, tripArgs()...)...)
	if code != 0 {
		t.Fatalf("code %d, stderr %q", code, errOut)
	}
	for _, want := range []string{"VEHICLE", "Hatchback", "Sedan", "SUV", "Prime SUV", "₹3,500"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
}

func TestBook_NewCustomerInteractive(t *testing.T) {
	c := newCLI(t)

	// vehicle, mobile, name, email, a wrong OTP and then the right one
	stdin := strings.Join([]string{"prime suv", "9123456780", "Ravi Kumar", "ravi@example.com", "000000", apiclienttest.ValidOTP}, "\n") + "\n"
	code, out, errOut := c.exec(t, stdin, append([]string{"book"}, tripArgs()...)...)
	if code != 0 {
		t.Fatalf("code %d, stderr %q\nstdout %s", code, errOut, out)
	}
	if !strings.Contains(out, "Booking confirmed") || !strings.Contains(out, "Prime_SUV") {
		t.Fatalf("stdout %q", out)
	}
	if !strings.Contains(errOut, "Invalid OTP") {
		t.Fatalf("expected the rejected OTP to be reported, stderr %q", errOut)
	}

	bookings := c.fake.Bookings()
	if len(bookings) != 1 || bookings[0].Name != "Ravi Kumar" || bookings[0].Price != 3500 {
		t.Fatalf("unexpected bookings %+v", bookings)
	}
}

func TestBook_OTPPromptHasNoAttemptCap(t *testing.T) {
	c := newCLI(t)
	c.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
	args := append([]string{"book"}, tripArgs()...)
	args = append(args, "--vehicle", "Sedan", "--mobile", "9876543210")

	stdin := strings.Repeat("000000\n", 5) + apiclienttest.ValidOTP + "\n"
	code, out, errOut := c.exec(t, stdin, args...)
	if code != 0 || !strings.Contains(out, "Booking confirmed") {
		t.Fatalf("code %d, stderr %q\nstdout %s", code, errOut, out)
	}
	if n := strings.Count(errOut, "Invalid OTP"); n != 5 {
		t.Fatalf("expected 5 reported rejections, got %d", n)
	}
}

func TestBook_EmptyOTPGivesUp(t *testing.T) {
	c := newCLI(t)
	c.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
	args := append([]string{"book"}, tripArgs()...)
	args = append(args, "--vehicle", "Sedan", "--mobile", "9876543210")

	code, _, errOut := c.exec(t, "000000\n\n", args...)
	if code != 1 || !strings.Contains(errOut, "no OTP entered") {
		t.Fatalf("code %d, stderr %q", code, errOut)
	}
	if n := len(c.fake.Requests("/api/auth/create")); n != 0 {
		t.Fatalf("no booking may be created, got %d create calls", n)
	}
}

func TestBook_KnownCustomerWithFlags(t *testing.T) {
	c := newCLI(t)
	c.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")

	args := append([]string{"book"}, tripArgs()...)
	args = append(args, "--vehicle", "Sedan", "--mobile", "9876543210", "--otp", apiclienttest.ValidOTP)
	code, out, errOut := c.exec(t, "", args...)
	if code != 0 {
		t.Fatalf("code %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "Welcome back, Asha Rao") || !strings.Contains(out, "Booking confirmed") {
		t.Fatalf("stdout %q", out)
	}
}

func TestAdmin_LoginStatsAndLogout(t *testing.T) {
	c := newCLI(t)
	c.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
	c.fake.AddBooking(domain.Booking{
		TravelDate: "2099-01-10", TravelTime: "09:00", Pickup: "Pune", Drop: "Goa",
		VehicleType: "SUV", Price: 2800, Status: domain.BookingUpcoming,
	})

	if code, _, errOut := c.exec(t, "", "admin", "users"); code != 1 || !strings.Contains(errOut, "cabctl admin login") {
		t.Fatalf("users before login: code %d, stderr %q", code, errOut)
	}

	if code, _, errOut := c.exec(t, apiclienttest.AdminPassword+"\n", "admin", "login", "--email", apiclienttest.AdminEmail); code != 0 {
		t.Fatalf("admin login: code %d, stderr %q", code, errOut)
	}
	if code, _, errOut := c.exec(t, "", "admin", "users"); code != 1 || !strings.Contains(errOut, "cabctl admin login") {
		t.Fatalf("users with OTP pending: code %d, stderr %q", code, errOut)
	}
	if code, _, errOut := c.exec(t, "", "admin", "otp", apiclienttest.ValidOTP); code != 0 {
		t.Fatalf("admin otp: code %d, stderr %q", code, errOut)
	}

	code, out, errOut := c.exec(t, "", "admin", "stats", "--json")
	if code != 0 {
		t.Fatalf("stats: code %d, stderr %q", code, errOut)
	}
	var st admin.Stats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if st.TotalUsers != 1 || st.TotalBookings != 1 || st.Revenue != 2800 || st.ByVehicle["SUV"] != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	_, out, _ = c.exec(t, "", "admin", "bookings", "--when", "upcoming")
	if !strings.Contains(out, "Goa") {
		t.Fatalf("bookings output %q", out)
	}
	if code, _, errOut := c.exec(t, "", "admin", "bookings", "--when", "someday"); code != 1 || !strings.Contains(errOut, "--when") {
		t.Fatalf("bad --when: code %d, stderr %q", code, errOut)
	}
	if code, _, errOut := c.exec(t, "", "admin", "bookings", "--status", "lost"); code != 1 || !strings.Contains(errOut, "pending, upcoming, confirmed, completed, cancelled, past") {
		t.Fatalf("bad --status: code %d, stderr %q", code, errOut)
	}

	c.exec(t, "", "admin", "logout")
	if code, _, _ := c.exec(t, "", "admin", "stats"); code != 1 {
		t.Fatal("stats must fail after admin logout")
	}
}

func TestAdmin_DeleteUserAsksForConfirmation(t *testing.T) {
	c := newCLI(t)
	c.fake.AddUser(domain.User{ID: "u7", Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
	c.exec(t, apiclienttest.AdminPassword+"\n", "admin", "login", "--email", apiclienttest.AdminEmail)
	c.exec(t, "", "admin", "otp", apiclienttest.ValidOTP)

	_, out, _ := c.exec(t, "no\n", "admin", "delete-user", "u7")
	if !strings.Contains(out, "Aborted") || len(c.fake.Users()) != 1 {
		t.Fatalf("delete should have been aborted: %q", out)
	}

	if code, _, errOut := c.exec(t, "", "admin", "delete-user", "u7", "--yes"); code != 0 {
		t.Fatalf("delete: code %d, stderr %q", code, errOut)
	}
	if len(c.fake.Users()) != 0 {
		t.Fatal("user should be gone")
	}
}
