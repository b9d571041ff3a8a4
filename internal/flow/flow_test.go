package flow_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/apiclient/apiclienttest"
	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/internal/session"
	"github.com/diagnosis/luxsuv-portal/pkg/events"
)

var testNow = time.Date(2030, 5, 1, 8, 0, 0, 0, time.Local)

func clock() time.Time { return testNow }

func puneToMumbai() domain.SearchCriteria {
	return domain.SearchCriteria{
		Pickup:        "Pune",
		Drop:          "Mumbai",
		DepartureDate: testNow.Format(domain.DateLayout),
		DepartureTime: "10:00",
		Passengers:    2,
	}
}

type harness struct {
	fake     *apiclienttest.Backend
	sessions *session.Manager
	rec      *events.Recorder
	flow     *flow.Flow
}

func newHarness(t *testing.T, opts ...flow.Option) *harness {
	t.Helper()
	fake := apiclienttest.New()
	t.Cleanup(fake.Close)

	sessions := session.NewManager(session.NewMemoryStore())
	client := apiclient.New(fake.URL(), apiclient.WithTokenSource(sessions))
	rec := &events.Recorder{}

	opts = append([]flow.Option{flow.WithEvents(rec), flow.WithClock(clock), flow.WithSession(sessions)}, opts...)
	return &harness{
		fake:     fake,
		sessions: sessions,
		rec:      rec,
		flow:     flow.New(client, opts...),
	}
}

// toOTPPending drives a known customer up to the OTP step.
func (h *harness) toOTPPending(t *testing.T, vehicle string) {
	t.Helper()
	ctx := context.Background()
	h.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")

	if _, err := h.flow.Search(ctx, puneToMumbai()); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := h.flow.SelectVehicle(ctx, vehicle); err != nil {
		t.Fatalf("SelectVehicle: %v", err)
	}
	if _, err := h.flow.CheckIdentity(ctx, "9876543210"); err != nil {
		t.Fatalf("CheckIdentity: %v", err)
	}
	if err := h.flow.RequestOTP(ctx); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
}

func TestSearch_SameLocationRejectedBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	c := puneToMumbai()
	c.Drop = "  pune "

	_, err := h.flow.Search(context.Background(), c)
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if _, ok := verrs.Field("dropLocation"); !ok {
		t.Fatalf("expected dropLocation error, got %v", verrs)
	}
	if n := len(h.fake.Requests("/api")); n != 0 {
		t.Fatalf("expected no backend calls, got %d", n)
	}
	if h.flow.State() != flow.Searching {
		t.Fatalf("state = %s", h.flow.State())
	}
}

func TestSearch_LiveResultsMatchCatalog(t *testing.T) {
	h := newHarness(t)

	res, err := h.flow.Search(context.Background(), puneToMumbai())
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != flow.SourceLive {
		t.Fatalf("source = %s", res.Source)
	}
	var types []string
	for _, v := range res.Vehicles {
		types = append(types, v.Type)
	}
	want := []string{catalog.Hatchback, catalog.Sedan, catalog.SUV, catalog.PrimeSUV}
	if len(types) != len(want) {
		t.Fatalf("vehicles = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("vehicles = %v, want %v", types, want)
		}
	}
	if h.flow.State() != flow.ResultsShown {
		t.Fatalf("state = %s", h.flow.State())
	}
}

func TestSearch_EmptyLiveResultStaysEmpty(t *testing.T) {
	h := newHarness(t)
	h.fake.Set(func(o *apiclienttest.Options) { o.Available = nil })

	res, err := h.flow.Search(context.Background(), puneToMumbai())
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != flow.SourceLive || len(res.Vehicles) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSearch_FallsBackToCatalog(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{
			name: "server error",
			setup: func(h *harness) {
				h.fake.Set(func(o *apiclienttest.Options) { o.AvailabilityStatus = http.StatusInternalServerError })
			},
		},
		{
			name:  "network error",
			setup: func(h *harness) { h.fake.Close() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			res, err := h.flow.Search(context.Background(), puneToMumbai())
			if err != nil {
				t.Fatal(err)
			}
			if res.Source != flow.SourceFallback || res.Reason == "" {
				t.Fatalf("unexpected result %+v", res)
			}
			if len(res.Vehicles) != 4 {
				t.Fatalf("expected 4 catalog vehicles, got %d", len(res.Vehicles))
			}
			subjects := h.rec.Subjects()
			if len(subjects) != 1 || subjects[0] != events.SearchFallback {
				t.Fatalf("events = %v", subjects)
			}
		})
	}
}

func TestSearch_FallbackFiltersByPassengers(t *testing.T) {
	h := newHarness(t)
	h.fake.Set(func(o *apiclienttest.Options) { o.AvailabilityStatus = http.StatusBadGateway })

	c := puneToMumbai()
	c.Passengers = 6
	res, err := h.flow.Search(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range res.Vehicles {
		if v.Seats < 6 {
			t.Fatalf("%s seats %d, fewer than 6", v.Type, v.Seats)
		}
	}
	if len(res.Vehicles) != 2 {
		t.Fatalf("expected SUV and Prime SUV, got %+v", res.Vehicles)
	}
}

func TestSearch_FallbackDisabled(t *testing.T) {
	h := newHarness(t, flow.WithFallback(false))
	h.fake.Set(func(o *apiclienttest.Options) { o.AvailabilityStatus = http.StatusServiceUnavailable })

	if _, err := h.flow.Search(context.Background(), puneToMumbai()); err == nil {
		t.Fatal("expected error with fallback disabled")
	}
	if h.flow.State() == flow.ResultsShown {
		t.Fatal("results must not be shown after a failed search")
	}
}

func TestSearch_UnauthorizedClearsStaleUserToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.sessions.Login(ctx, "stale-token", "asha"); err != nil {
		t.Fatal(err)
	}
	h.fake.Set(func(o *apiclienttest.Options) { o.RejectAll = true })

	res, err := h.flow.Search(ctx, puneToMumbai())
	if err != nil {
		t.Fatal(err)
	}
	if res.Source != flow.SourceFallback {
		t.Fatalf("source = %s", res.Source)
	}
	if h.sessions.IsAuthenticated(ctx) {
		t.Fatal("stale user token should have been cleared")
	}
}

func TestSelectVehicle_MustBeOffered(t *testing.T) {
	h := newHarness(t)
	h.fake.Set(func(o *apiclienttest.Options) { o.Available = []string{"Sedan"} })
	ctx := context.Background()

	if _, err := h.flow.Search(ctx, puneToMumbai()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.flow.SelectVehicle(ctx, "SUV"); !errors.Is(err, flow.ErrVehicleNotOffered) {
		t.Fatalf("expected ErrVehicleNotOffered, got %v", err)
	}
	v, err := h.flow.SelectVehicle(ctx, "sedan")
	if err != nil {
		t.Fatal(err)
	}
	if v.Type != catalog.Sedan || h.flow.State() != flow.IdentityCollecting {
		t.Fatalf("selected %+v in state %s", v, h.flow.State())
	}
}

func TestCheckIdentity_RoutesKnownAndUnknown(t *testing.T) {
	ctx := context.Background()

	t.Run("known mobile goes straight to OTP", func(t *testing.T) {
		h := newHarness(t)
		h.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
		h.flow.Search(ctx, puneToMumbai())
		h.flow.SelectVehicle(ctx, "Sedan")

		check, err := h.flow.CheckIdentity(ctx, " 9876543210 ")
		if err != nil {
			t.Fatal(err)
		}
		if !check.Known || check.NeedsDetails || check.Identity.Name != "Asha Rao" {
			t.Fatalf("unexpected check %+v", check)
		}
		if err := h.flow.RequestOTP(ctx); err != nil {
			t.Fatal(err)
		}
		if h.flow.State() != flow.OTPPending {
			t.Fatalf("state = %s", h.flow.State())
		}
	})

	t.Run("unknown mobile needs details first", func(t *testing.T) {
		h := newHarness(t)
		h.flow.Search(ctx, puneToMumbai())
		h.flow.SelectVehicle(ctx, "Sedan")

		check, err := h.flow.CheckIdentity(ctx, "9000000001")
		if err != nil {
			t.Fatal(err)
		}
		if check.Known || !check.NeedsDetails {
			t.Fatalf("unexpected check %+v", check)
		}
		if err := h.flow.RequestOTP(ctx); !errors.Is(err, flow.ErrIdentityIncomplete) {
			t.Fatalf("expected ErrIdentityIncomplete, got %v", err)
		}
		if n := len(h.fake.Requests("/api/auth/send-otp")); n != 0 {
			t.Fatalf("OTP sent before details were collected")
		}

		if _, err := h.flow.SubmitDetails(ctx, "Ravi", "not-an-email"); err == nil {
			t.Fatal("expected invalid email to be rejected")
		}
		if _, err := h.flow.SubmitDetails(ctx, "Ravi", "Ravi@Example.com"); err != nil {
			t.Fatal(err)
		}
		if err := h.flow.RequestOTP(ctx); err != nil {
			t.Fatal(err)
		}

		var body map[string]string
		json.Unmarshal(h.fake.Requests("/api/auth/send-otp")[0].Body, &body)
		if body["phoneNumber"] != "9000000001" || body["userName"] != "Ravi" {
			t.Fatalf("unexpected send-otp body %v", body)
		}
	})

	t.Run("invalid mobile never reaches the backend", func(t *testing.T) {
		h := newHarness(t)
		h.flow.Search(ctx, puneToMumbai())
		h.flow.SelectVehicle(ctx, "Sedan")

		var verrs domain.ValidationErrors
		if _, err := h.flow.CheckIdentity(ctx, "98765"); !errors.As(err, &verrs) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if n := len(h.fake.Requests("/api/auth/check-number")); n != 0 {
			t.Fatalf("expected no lookup, got %d", n)
		}
	})
}

func TestVerifyOTP_FailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.sessions.Login(ctx, "user-token", "asha"); err != nil {
		t.Fatal(err)
	}
	h.toOTPPending(t, "Sedan")

	before, _ := h.sessions.Current(ctx)
	snap := h.flow.Snapshot()

	err := h.flow.VerifyOTP(ctx, "000000")
	if msg, ok := apiclient.ServerMessage(err); !ok || msg != "Invalid OTP" {
		t.Fatalf("expected server message, got %v", err)
	}

	if h.flow.State() != flow.OTPPending {
		t.Fatalf("state = %s", h.flow.State())
	}
	if _, ok := h.flow.Booking(); ok {
		t.Fatal("no booking may exist after a failed OTP")
	}
	if n := len(h.fake.Bookings()); n != 0 {
		t.Fatalf("backend has %d bookings", n)
	}
	after, _ := h.sessions.Current(ctx)
	if before != after {
		t.Fatalf("session changed: %+v -> %+v", before, after)
	}
	got := h.flow.Snapshot()
	if got.Identity == nil || *got.Identity != *snap.Identity || got.Selected.Type != snap.Selected.Type {
		t.Fatalf("flow data changed: %+v -> %+v", snap, got)
	}

	if _, err := h.flow.CreateBooking(ctx); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// The user may try again.
	if err := h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP); err != nil {
		t.Fatal(err)
	}
	if h.flow.State() != flow.OTPVerified {
		t.Fatalf("state = %s", h.flow.State())
	}
}

func TestFullFlow_ConfirmsByCriteriaSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.toOTPPending(t, "prime suv")

	if err := h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP); err != nil {
		t.Fatal(err)
	}
	b, err := h.flow.CreateBooking(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == "" || b.VehicleType != "Prime_SUV" || b.Mobile != "9876543210" {
		t.Fatalf("unexpected booking %+v", b)
	}
	if h.flow.State() != flow.Confirmed {
		t.Fatalf("state = %s", h.flow.State())
	}

	var payload map[string]any
	if err := json.Unmarshal(h.fake.Requests("/api/auth/create")[0].Body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["vehicleType"] != "Prime_SUV" {
		t.Fatalf("vehicleType = %v", payload["vehicleType"])
	}
	if payload["price"] != float64(3500) || payload["travelType"] != domain.TravelOneWay {
		t.Fatalf("unexpected payload %v", payload)
	}
	if n := len(h.fake.Requests("/api/auth/search-bookings")); n != 1 {
		t.Fatalf("expected one confirmation lookup, got %d", n)
	}

	subjects := h.rec.Subjects()
	want := []string{events.OTPRequested, events.OTPVerified, events.BookingCreated}
	if len(subjects) != len(want) {
		t.Fatalf("events = %v", subjects)
	}
	for i := range want {
		if subjects[i] != want[i] {
			t.Fatalf("events = %v, want %v", subjects, want)
		}
	}

	if _, err := h.flow.Search(ctx, puneToMumbai()); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("confirmed flow must be terminal, got %v", err)
	}
}

func TestCreateBooking_UsesCanonicalBooking(t *testing.T) {
	h := newHarness(t)
	h.fake.Set(func(o *apiclienttest.Options) { o.CreateReturnsBooking = true })
	ctx := context.Background()
	h.toOTPPending(t, "SUV")
	h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP)

	b, err := h.flow.CreateBooking(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != h.fake.Bookings()[0].ID {
		t.Fatalf("booking id %q does not match backend", b.ID)
	}
	if n := len(h.fake.Requests("/api/auth/search-bookings")); n != 0 {
		t.Fatalf("canonical booking must skip the lookup, got %d calls", n)
	}
}

func TestConfirm_AmbiguousMatchIsReportedNotGuessed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := puneToMumbai()
	h.fake.AddBooking(domain.Booking{
		Pickup: c.Pickup, Drop: c.Drop, TravelDate: c.DepartureDate, TravelTime: c.DepartureTime,
		VehicleType: "Sedan", Mobile: "9876543210", Status: domain.BookingUpcoming,
	})
	h.toOTPPending(t, "Sedan")
	h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP)

	_, err := h.flow.CreateBooking(ctx)
	if !errors.Is(err, flow.ErrConfirmationAmbiguous) {
		t.Fatalf("expected ErrConfirmationAmbiguous, got %v", err)
	}
	snap := h.flow.Snapshot()
	if snap.State != flow.OTPVerified || !snap.AwaitingConfirmation || snap.Booking != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	found := false
	for _, s := range h.rec.Subjects() {
		if s == events.BookingOrphaned {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an orphaned booking event")
	}

	if _, err := h.flow.CreateBooking(ctx); !errors.Is(err, flow.ErrBookingAlreadyCreated) {
		t.Fatalf("second create must be refused, got %v", err)
	}
	if n := len(h.fake.Requests("/api/auth/create")); n != 1 {
		t.Fatalf("expected one create call, got %d", n)
	}
}

func TestConfirm_DuplicateRowsOfSameBooking(t *testing.T) {
	h := newHarness(t)
	h.fake.Set(func(o *apiclienttest.Options) { o.DuplicateOnSearch = true })
	ctx := context.Background()
	h.toOTPPending(t, "Hatchback")
	h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP)

	if _, err := h.flow.CreateBooking(ctx); err != nil {
		t.Fatalf("repeated rows of one booking are still one match: %v", err)
	}
}

func TestCreateBooking_FailureRequiresNewOTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.toOTPPending(t, "Sedan")
	h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP)
	h.fake.Close()

	if _, err := h.flow.CreateBooking(ctx); !apiclient.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if h.flow.State() != flow.IdentityCollecting {
		t.Fatalf("state = %s", h.flow.State())
	}
	if _, err := h.flow.CreateBooking(ctx); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.flow.SelectVehicle(ctx, "Sedan"); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("select before search: %v", err)
	}
	if err := h.flow.VerifyOTP(ctx, "123456"); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("verify before OTP: %v", err)
	}
	if _, err := h.flow.ConfirmBooking(ctx); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("confirm before create: %v", err)
	}
	if n := len(h.fake.Requests("/api")); n != 0 {
		t.Fatalf("expected no backend calls, got %d", n)
	}
}

func TestOTPPending_ChangeMobile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.toOTPPending(t, "Sedan")

	check, err := h.flow.CheckIdentity(ctx, "9123456789")
	if err != nil {
		t.Fatalf("CheckIdentity while OTP pending: %v", err)
	}
	if check.Known || !check.NeedsDetails {
		t.Fatalf("unexpected check %+v", check)
	}
	if st := h.flow.State(); st != flow.IdentityCollecting {
		t.Fatalf("state = %s", st)
	}
	if err := h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("old OTP must no longer verify: %v", err)
	}

	if _, err := h.flow.SubmitDetails(ctx, "Ravi Kumar", "ravi@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := h.flow.RequestOTP(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.flow.VerifyOTP(ctx, apiclienttest.ValidOTP); err != nil {
		t.Fatal(err)
	}
	b, err := h.flow.CreateBooking(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if b.Mobile != "9123456789" || b.Name != "Ravi Kumar" {
		t.Fatalf("booking kept the old identity: %+v", b)
	}
}

func TestOTPPending_ChangeVehicleKeepsIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.toOTPPending(t, "Sedan")

	v, err := h.flow.SelectVehicle(ctx, "SUV")
	if err != nil {
		t.Fatalf("SelectVehicle while OTP pending: %v", err)
	}
	if v.Type != "SUV" || h.flow.State() != flow.IdentityCollecting {
		t.Fatalf("selected %s in state %s", v.Type, h.flow.State())
	}
	if snap := h.flow.Snapshot(); snap.Identity == nil || snap.Identity.Mobile != "9876543210" {
		t.Fatalf("identity lost: %+v", snap.Identity)
	}
	if err := h.flow.RequestOTP(ctx); err != nil {
		t.Fatalf("resend after vehicle change: %v", err)
	}
	if n := len(h.fake.Requests("/api/auth/send-otp")); n != 2 {
		t.Fatalf("expected two OTP sends, got %d", n)
	}
}

func TestOTPPending_SearchAgainStartsOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.toOTPPending(t, "Sedan")

	if _, err := h.flow.Search(ctx, puneToMumbai()); err != nil {
		t.Fatalf("Search while OTP pending: %v", err)
	}
	snap := h.flow.Snapshot()
	if snap.State != flow.ResultsShown || snap.Selected != nil || snap.Identity != nil {
		t.Fatalf("search did not start over: %+v", snap)
	}
	if err := h.flow.RequestOTP(ctx); !errors.Is(err, flow.ErrInvalidTransition) {
		t.Fatalf("OTP before a new selection: %v", err)
	}
}

// blockingBackend holds SendOTP open until released.
type blockingBackend struct {
	flow.Backend
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) AvailableTaxis(context.Context, domain.SearchCriteria) ([]apiclient.Availability, error) {
	return []apiclient.Availability{{VehicleType: "Sedan"}}, nil
}

func (b *blockingBackend) CheckNumber(_ context.Context, mobile string) (*apiclient.CheckNumberResponse, error) {
	return &apiclient.CheckNumberResponse{Exists: true, User: &domain.Identity{Mobile: mobile, Name: "Asha", Email: "asha@example.com"}}, nil
}

func (b *blockingBackend) SendOTP(context.Context, apiclient.SendOTPRequest) error {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return nil
}

func TestRequestOTP_CoalescesDuplicateSubmissions(t *testing.T) {
	backend := &blockingBackend{started: make(chan struct{}), release: make(chan struct{})}
	f := flow.New(backend, flow.WithClock(clock))
	ctx := context.Background()

	if _, err := f.Search(ctx, puneToMumbai()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.SelectVehicle(ctx, "Sedan"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.CheckIdentity(ctx, "9876543210"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = f.RequestOTP(ctx)
	}()
	<-backend.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = f.RequestOTP(ctx)
	}()
	time.Sleep(100 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := backend.calls.Load(); n != 1 {
		t.Fatalf("expected one SendOTP call, got %d", n)
	}
}
