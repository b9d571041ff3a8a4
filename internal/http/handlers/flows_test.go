package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/apiclient/apiclienttest"
	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/internal/http/handlers"
	"github.com/diagnosis/luxsuv-portal/internal/http/response"
	"github.com/diagnosis/luxsuv-portal/internal/notify"
	"github.com/diagnosis/luxsuv-portal/internal/session"
)

// ---------- Harness ----------

type portal struct {
	srv  *httptest.Server
	fake *apiclienttest.Backend
	reg  *handlers.Registry
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	fake := apiclienttest.New()
	t.Cleanup(fake.Close)

	newFlow := func(_ context.Context, id string) (*flow.Flow, func(), error) {
		sessions := session.NewManager(session.NewMemoryStore())
		api := apiclient.New(fake.URL(), apiclient.WithTokenSource(sessions))
		return flow.New(api, flow.WithID(id), flow.WithSession(sessions)), nil, nil
	}
	reg := handlers.NewRegistry(newFlow, time.Hour)
	h := handlers.NewFlowHandler(reg, apiclient.NewContactClient(fake.URL(), time.Second))

	r := chi.NewRouter()
	r.Mount("/v1", h.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &portal{srv: srv, fake: fake, reg: reg}
}

// body is the union of a step response and an error response.
type body struct {
	Flow   flow.Snapshot   `json:"flow"`
	Result json.RawMessage `json:"result"`
	Notice *notify.Notice  `json:"notice"`

	Error      string            `json:"error"`
	Code       string            `json:"code"`
	Fields     map[string]string `json:"fields"`
	RedirectTo string            `json:"redirectTo"`
}

func (p *portal) call(t *testing.T, method, path string, in any) (int, body) {
	t.Helper()
	var rd *bytes.Reader
	switch v := in.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, p.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out body
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func (p *portal) start(t *testing.T) string {
	t.Helper()
	status, out := p.call(t, http.MethodPost, "/v1/flows", nil)
	if status != http.StatusCreated {
		t.Fatalf("create flow: status %d", status)
	}
	if out.Flow.ID == "" || out.Flow.State != flow.Searching {
		t.Fatalf("unexpected new flow %+v", out.Flow)
	}
	return out.Flow.ID
}

func tomorrow() domain.SearchCriteria {
	return domain.SearchCriteria{
		Pickup:        "Pune",
		Drop:          "Mumbai",
		DepartureDate: time.Now().AddDate(0, 0, 1).Format(domain.DateLayout),
		DepartureTime: "10:00",
		Passengers:    2,
	}
}

// toOTPPending drives a known customer up to the OTP step.
func (p *portal) toOTPPending(t *testing.T, id string) {
	t.Helper()
	p.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
	steps := []struct {
		path string
		in   any
	}{
		{"/search", tomorrow()},
		{"/select", map[string]string{"vehicle": "sedan"}},
		{"/identity", map[string]string{"mobile": "9876543210"}},
		{"/otp", nil},
	}
	for _, s := range steps {
		if status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+s.path, s.in); status != http.StatusOK {
			t.Fatalf("%s: status %d: %s", s.path, status, out.Error)
		}
	}
}

// ---------- Tests ----------

func TestFlow_FullBookingOverHTTP(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/search", tomorrow())
	if status != http.StatusOK {
		t.Fatalf("search: status %d: %s", status, out.Error)
	}
	var res flow.SearchResult
	if err := json.Unmarshal(out.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Source != flow.SourceLive || len(res.Vehicles) != 4 {
		t.Fatalf("unexpected search result %+v", res)
	}
	if out.Flow.State != flow.ResultsShown {
		t.Fatalf("state = %s", out.Flow.State)
	}

	p.fake.AddUser(domain.User{Name: "Asha Rao", Email: "asha@example.com", Mobile: "9876543210"}, "pw")
	if status, _ := p.call(t, http.MethodPost, "/v1/flows/"+id+"/select", map[string]string{"vehicle": "Sedan"}); status != http.StatusOK {
		t.Fatalf("select: status %d", status)
	}
	status, out = p.call(t, http.MethodPost, "/v1/flows/"+id+"/identity", map[string]string{"mobile": "9876543210"})
	if status != http.StatusOK {
		t.Fatalf("identity: status %d", status)
	}
	var check flow.IdentityCheck
	if err := json.Unmarshal(out.Result, &check); err != nil {
		t.Fatal(err)
	}
	if !check.Known || check.NeedsDetails {
		t.Fatalf("expected a known customer, got %+v", check)
	}

	status, out = p.call(t, http.MethodPost, "/v1/flows/"+id+"/otp", nil)
	if status != http.StatusOK || out.Notice == nil || out.Flow.State != flow.OTPPending {
		t.Fatalf("otp: status %d, %+v", status, out)
	}
	if status, _ := p.call(t, http.MethodPost, "/v1/flows/"+id+"/otp/verify", map[string]string{"otp": apiclienttest.ValidOTP}); status != http.StatusOK {
		t.Fatalf("verify: status %d", status)
	}

	status, out = p.call(t, http.MethodPost, "/v1/flows/"+id+"/booking", nil)
	if status != http.StatusCreated {
		t.Fatalf("booking: status %d: %s", status, out.Error)
	}
	if out.Flow.State != flow.Confirmed || out.Flow.Booking == nil {
		t.Fatalf("expected confirmed flow, got %+v", out.Flow)
	}
	if out.Flow.Booking.Price != 2000 || out.Flow.Booking.VehicleType != "Sedan" {
		t.Fatalf("unexpected booking %+v", out.Flow.Booking)
	}

	status, out = p.call(t, http.MethodGet, "/v1/flows/"+id, nil)
	if status != http.StatusOK || out.Flow.Booking == nil {
		t.Fatalf("get after confirm: status %d, %+v", status, out.Flow)
	}
}

func TestSearch_ValidationErrorsAreInline(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)
	c := tomorrow()
	c.Drop = " PUNE"

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/search", c)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if out.Code != response.CodeInvalidInput {
		t.Fatalf("code = %q", out.Code)
	}
	if _, ok := out.Fields["dropLocation"]; !ok {
		t.Fatalf("expected a dropLocation field error, got %v", out.Fields)
	}
	if n := len(p.fake.Requests("/api")); n != 0 {
		t.Fatalf("invalid search reached the backend %d times", n)
	}
}

func TestSearch_FallbackCarriesNotice(t *testing.T) {
	p := newPortal(t)
	p.fake.Set(func(o *apiclienttest.Options) { o.AvailabilityStatus = http.StatusInternalServerError })
	id := p.start(t)

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/search", tomorrow())
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var res flow.SearchResult
	if err := json.Unmarshal(out.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Source != flow.SourceFallback || len(res.Vehicles) != len(catalog.All()) {
		t.Fatalf("unexpected result %+v", res)
	}
	if out.Notice == nil || out.Notice.Message == "" {
		t.Fatal("expected a fallback notice")
	}
}

func TestUnknownFlow(t *testing.T) {
	p := newPortal(t)

	status, out := p.call(t, http.MethodPost, "/v1/flows/nope/search", tomorrow())
	if status != http.StatusNotFound || out.Code != response.CodeFlowNotFound {
		t.Fatalf("status %d code %q", status, out.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/search", "{not json")
	if status != http.StatusBadRequest || out.Error != "invalid json" {
		t.Fatalf("status %d error %q", status, out.Error)
	}
}

func TestStepOutOfOrder(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/otp", nil)
	if status != http.StatusConflict || out.Code != response.CodeConflict {
		t.Fatalf("status %d code %q", status, out.Code)
	}
}

func TestVerifyOTP_WrongCodeShowsServerMessage(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)
	p.toOTPPending(t, id)

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/otp/verify", map[string]string{"otp": "000000"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if out.Error != "Invalid OTP" {
		t.Fatalf("error = %q", out.Error)
	}

	_, out = p.call(t, http.MethodGet, "/v1/flows/"+id, nil)
	if out.Flow.State != flow.OTPPending {
		t.Fatalf("state = %s", out.Flow.State)
	}
}

func TestBooking_UnconfirmedThenRetry(t *testing.T) {
	p := newPortal(t)
	c := tomorrow()
	p.fake.AddBooking(domain.Booking{
		Pickup: c.Pickup, Drop: c.Drop, TravelDate: c.DepartureDate, TravelTime: c.DepartureTime,
		VehicleType: "Sedan", Mobile: "9876543210", Status: domain.BookingUpcoming,
	})
	id := p.start(t)
	p.toOTPPending(t, id)
	p.call(t, http.MethodPost, "/v1/flows/"+id+"/otp/verify", map[string]string{"otp": apiclienttest.ValidOTP})

	status, out := p.call(t, http.MethodPost, "/v1/flows/"+id+"/booking", nil)
	if status != http.StatusAccepted {
		t.Fatalf("status = %d", status)
	}
	if !out.Flow.AwaitingConfirmation || out.Notice == nil || out.Notice.Message != notify.MessageOrphaned {
		t.Fatalf("unexpected body %+v", out)
	}

	status, _ = p.call(t, http.MethodPost, "/v1/flows/"+id+"/booking", nil)
	if status != http.StatusAccepted {
		t.Fatalf("retry status = %d", status)
	}
	if n := len(p.fake.Requests("/api/auth/create")); n != 1 {
		t.Fatalf("expected a single create call, got %d", n)
	}
}

func TestBooking_RepeatAfterConfirmedReturnsSameBooking(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)
	p.toOTPPending(t, id)
	p.call(t, http.MethodPost, "/v1/flows/"+id+"/otp/verify", map[string]string{"otp": apiclienttest.ValidOTP})

	status, first := p.call(t, http.MethodPost, "/v1/flows/"+id+"/booking", nil)
	if status != http.StatusCreated || first.Flow.State != flow.Confirmed {
		t.Fatalf("create: status %d, state %s", status, first.Flow.State)
	}

	status, again := p.call(t, http.MethodPost, "/v1/flows/"+id+"/booking", nil)
	if status != http.StatusOK {
		t.Fatalf("repeat status = %d", status)
	}
	var a, b domain.Booking
	if err := json.Unmarshal(first.Result, &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(again.Result, &b); err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("booking ids %q and %q", a.ID, b.ID)
	}
	if n := len(p.fake.Requests("/api/auth/create")); n != 1 {
		t.Fatalf("expected a single create call, got %d", n)
	}
}

func TestAbandonFlow(t *testing.T) {
	p := newPortal(t)
	id := p.start(t)

	if status, _ := p.call(t, http.MethodDelete, "/v1/flows/"+id, nil); status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}
	if status, _ := p.call(t, http.MethodGet, "/v1/flows/"+id, nil); status != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", status)
	}
	if p.reg.Len() != 0 {
		t.Fatalf("registry still holds %d flows", p.reg.Len())
	}
}

func TestCatalog(t *testing.T) {
	p := newPortal(t)

	resp, err := http.Get(p.srv.URL + "/v1/catalog")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Vehicles  []catalog.VehicleOption `json:"vehicles"`
		TimeSlots []string                `json:"timeSlots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Vehicles) != 4 || len(out.TimeSlots) != 48 {
		t.Fatalf("got %d vehicles and %d slots", len(out.Vehicles), len(out.TimeSlots))
	}
}

func TestContact(t *testing.T) {
	p := newPortal(t)

	status, out := p.call(t, http.MethodPost, "/v1/contact", domain.ContactMessage{Name: "Ravi", Email: "bad", Message: ""})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if _, ok := out.Fields["email"]; !ok {
		t.Fatalf("expected email field error, got %v", out.Fields)
	}
	if n := len(p.fake.Requests("/api/contact")); n != 0 {
		t.Fatalf("invalid message reached the backend")
	}

	req, _ := http.NewRequest(http.MethodPost, p.srv.URL+"/v1/contact",
		strings.NewReader(`{"name":"Ravi","email":"ravi@example.com","message":"Need a cab to the airport"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var n notify.Notice
	if err := json.NewDecoder(resp.Body).Decode(&n); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || n.Level != notify.LevelInfo {
		t.Fatalf("status %d notice %+v", resp.StatusCode, n)
	}
	if got := len(p.fake.Requests("/api/contact/store")); got != 1 {
		t.Fatalf("expected one contact call, got %d", got)
	}
}
