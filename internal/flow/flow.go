// Package flow drives one customer from an availability search to a confirmed
// booking: search, vehicle selection, identity check, OTP challenge, booking
// creation and confirmation.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/pkg/events"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Backend is the part of the API client a flow needs.
type Backend interface {
	AvailableTaxis(ctx context.Context, c domain.SearchCriteria) ([]apiclient.Availability, error)
	CheckNumber(ctx context.Context, mobile string) (*apiclient.CheckNumberResponse, error)
	SendOTP(ctx context.Context, req apiclient.SendOTPRequest) error
	VerifyOTP(ctx context.Context, req apiclient.VerifyOTPRequest) (*apiclient.VerifyOTPResponse, error)
	CreateBooking(ctx context.Context, req apiclient.CreateBookingRequest) (*apiclient.CreateBookingResponse, error)
	SearchBookings(ctx context.Context, req apiclient.SearchBookingsRequest) ([]domain.Booking, error)
}

// UserSession is cleared when the backend rejects the stored user token.
type UserSession interface {
	ClearUser(ctx context.Context) error
}

var (
	ErrVehicleNotOffered     = errors.New("vehicle is not among the search results")
	ErrMobileNotChecked      = errors.New("mobile number has not been checked")
	ErrIdentityIncomplete    = errors.New("name and email are required before requesting an OTP")
	ErrConfirmationAmbiguous = errors.New("created booking could not be identified")
	ErrBookingAlreadyCreated = errors.New("a booking was already created for this verification")
)

type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// SearchResult tells the caller whether the vehicles came from the backend or
// from the static catalog after a failed lookup.
type SearchResult struct {
	Source   Source                  `json:"source"`
	Vehicles []catalog.VehicleOption `json:"vehicles"`
	Reason   string                  `json:"reason,omitempty"`
}

type IdentityCheck struct {
	Known        bool             `json:"known"`
	Identity     *domain.Identity `json:"identity,omitempty"`
	NeedsDetails bool             `json:"needsDetails"`
}

type Option func(*Flow)

func WithID(id string) Option {
	return func(f *Flow) { f.id = id }
}

func WithEvents(p events.Publisher) Option {
	return func(f *Flow) { f.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithFallback controls whether a failed availability lookup shows the static
// catalog (the default) or fails the search.
func WithFallback(enabled bool) Option {
	return func(f *Flow) { f.fallback = enabled }
}

func WithSession(s UserSession) Option {
	return func(f *Flow) { f.session = s }
}

type Flow struct {
	id       string
	api      Backend
	events   events.Publisher
	session  UserSession
	now      func() time.Time
	fallback bool

	group  singleflight.Group
	stepMu sync.Mutex

	mu            sync.Mutex
	state         State
	criteria      domain.SearchCriteria
	results       *SearchResult
	selected      *catalog.VehicleOption
	identity      domain.Identity
	mobileChecked bool
	needsDetails  bool
	userID        string
	created       bool
	booking       *domain.Booking
	lastActive    time.Time
}

func New(api Backend, opts ...Option) *Flow {
	f := &Flow{
		id:       uuid.NewString(),
		api:      api,
		events:   events.NoopPublisher{},
		now:      time.Now,
		fallback: true,
		state:    Searching,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.lastActive = f.now()
	return f
}

func (f *Flow) ID() string { return f.id }

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) LastActive() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActive
}

// Booking returns the confirmed booking, if any.
func (f *Flow) Booking() (domain.Booking, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.booking == nil {
		return domain.Booking{}, false
	}
	return *f.booking, true
}

// step coalesces concurrent calls with the same key into one execution and
// runs different steps one at a time.
func (f *Flow) step(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx = logger.WithFlow(ctx, f.id)
	v, err, shared := f.group.Do(key, func() (any, error) {
		f.stepMu.Lock()
		defer f.stepMu.Unlock()
		return fn(ctx)
	})
	if shared {
		logger.DebugContext(ctx, "Coalesced duplicate flow step", "step", key)
	}
	return v, err
}

// setState must be called with f.mu held.
func (f *Flow) setState(to State) {
	f.state = to
	f.lastActive = f.now()
}

func (f *Flow) publish(ctx context.Context, subject string, data any) {
	if err := f.events.Publish(ctx, subject, data); err != nil {
		logger.ErrorContext(ctx, "Failed to publish flow event", "subject", subject, "error", err)
	}
}

// Search validates the criteria and asks the backend for free vehicles. When
// the lookup fails and fallback is enabled the static catalog is returned
// instead, filtered by passenger count. Invalid criteria never reach the
// network.
func (f *Flow) Search(ctx context.Context, c domain.SearchCriteria) (SearchResult, error) {
	c.Normalize()
	key := strings.Join([]string{"search", c.Pickup, c.Drop, c.DepartureDate, c.DepartureTime, strconv.Itoa(c.Passengers)}, "|")
	v, err := f.step(ctx, key, func(ctx context.Context) (any, error) {
		return f.search(ctx, c)
	})
	if err != nil {
		return SearchResult{}, err
	}
	return v.(SearchResult), nil
}

func (f *Flow) search(ctx context.Context, c domain.SearchCriteria) (SearchResult, error) {
	if st := f.State(); !canTransition(st, Searching) {
		return SearchResult{}, transitionError("search", st)
	}
	if err := c.Validate(f.now()); err != nil {
		return SearchResult{}, err
	}

	f.mu.Lock()
	f.resetSelection()
	f.criteria = c
	f.setState(Searching)
	f.mu.Unlock()

	avail, err := f.api.AvailableTaxis(ctx, c)

	var res SearchResult
	switch {
	case err == nil:
		res = SearchResult{Source: SourceLive, Vehicles: liveVehicles(ctx, avail)}
	case ctx.Err() != nil:
		return SearchResult{}, err
	case !f.fallback:
		logger.ErrorContext(ctx, "Availability lookup failed", "error", err)
		return SearchResult{}, err
	default:
		if errors.Is(err, apiclient.ErrUnauthorized) && f.session != nil {
			if cerr := f.session.ClearUser(ctx); cerr != nil {
				logger.ErrorContext(ctx, "Failed to clear user session", "error", cerr)
			}
		}
		reason := fallbackReason(err)
		logger.WarnContext(ctx, "Availability lookup failed, serving static catalog",
			"error", err,
			"pickup", c.Pickup,
			"drop", c.Drop,
		)
		res = SearchResult{Source: SourceFallback, Vehicles: catalog.ForPassengers(c.Passengers), Reason: reason}
		f.publish(ctx, events.SearchFallback, events.SearchFallbackEvent{
			Pickup:     c.Pickup,
			Drop:       c.Drop,
			Reason:     reason,
			OccurredAt: f.now().UTC(),
		})
	}

	f.mu.Lock()
	f.results = &res
	f.setState(ResultsShown)
	f.mu.Unlock()

	logger.InfoContext(ctx, "Search completed", "source", res.Source, "vehicles", len(res.Vehicles))
	return res, nil
}

// resetSelection must be called with f.mu held.
func (f *Flow) resetSelection() {
	f.results = nil
	f.selected = nil
	f.identity = domain.Identity{}
	f.mobileChecked = false
	f.needsDetails = false
	f.userID = ""
	f.created = false
}

func liveVehicles(ctx context.Context, avail []apiclient.Availability) []catalog.VehicleOption {
	out := make([]catalog.VehicleOption, 0, len(avail))
	seen := make(map[string]bool, len(avail))
	for _, a := range avail {
		opt, ok := catalog.Match(a.VehicleType)
		if !ok {
			logger.WarnContext(ctx, "Skipping unknown vehicle type from backend", "vehicle_type", a.VehicleType)
			continue
		}
		if seen[opt.Type] {
			continue
		}
		seen[opt.Type] = true
		if a.Price > 0 {
			opt.Price = a.Price
		}
		if a.Seats > 0 {
			opt.Seats = a.Seats
		}
		out = append(out, opt)
	}
	return out
}

func fallbackReason(err error) string {
	var apiErr *apiclient.APIError
	switch {
	case apiclient.IsNetwork(err):
		return "availability service unreachable"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("availability service error (status %d)", apiErr.Status)
	default:
		return "availability lookup failed"
	}
}

// SelectVehicle picks one of the vehicles from the last search result.
// Choosing again while an OTP is pending keeps the identity but needs a new
// OTP.
func (f *Flow) SelectVehicle(ctx context.Context, label string) (catalog.VehicleOption, error) {
	v, err := f.step(ctx, "select|"+catalog.Normalize(label), func(ctx context.Context) (any, error) {
		return f.selectVehicle(label)
	})
	if err != nil {
		return catalog.VehicleOption{}, err
	}
	return v.(catalog.VehicleOption), nil
}

func (f *Flow) selectVehicle(label string) (catalog.VehicleOption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case ResultsShown, IdentityCollecting, OTPPending:
	default:
		return catalog.VehicleOption{}, transitionError("select a vehicle", f.state)
	}
	if f.results == nil {
		return catalog.VehicleOption{}, transitionError("select a vehicle", f.state)
	}
	key := catalog.Normalize(label)
	for _, v := range f.results.Vehicles {
		if catalog.Normalize(v.Type) != key {
			continue
		}
		if _, err := catalog.BackendType(v.Type); err != nil {
			return catalog.VehicleOption{}, err
		}
		chosen := v
		f.selected = &chosen
		f.setState(IdentityCollecting)
		return chosen, nil
	}
	return catalog.VehicleOption{}, fmt.Errorf("%w: %q", ErrVehicleNotOffered, label)
}

// CheckIdentity looks the mobile number up. A known number is ready for an
// OTP; an unknown one needs name and email first. Checking while an OTP is
// pending replaces the number and drops the pending code.
func (f *Flow) CheckIdentity(ctx context.Context, mobile string) (IdentityCheck, error) {
	mobile = domain.NormalizeMobile(mobile)
	v, err := f.step(ctx, "identity|"+mobile, func(ctx context.Context) (any, error) {
		return f.checkIdentity(ctx, mobile)
	})
	if err != nil {
		return IdentityCheck{}, err
	}
	return v.(IdentityCheck), nil
}

func (f *Flow) checkIdentity(ctx context.Context, mobile string) (IdentityCheck, error) {
	if st := f.State(); st != IdentityCollecting && st != OTPPending {
		return IdentityCheck{}, transitionError("check identity", st)
	}
	if err := domain.ValidateMobile(mobile); err != nil {
		return IdentityCheck{}, err
	}

	resp, err := f.api.CheckNumber(ctx, mobile)
	if err != nil {
		logger.WarnContext(ctx, "Mobile lookup failed", "error", err)
		return IdentityCheck{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == OTPPending {
		logger.InfoContext(ctx, "Pending OTP abandoned for a new mobile number")
	}
	check := IdentityCheck{Known: resp.Exists && resp.User != nil}
	f.identity = domain.Identity{Mobile: mobile}
	f.userID = ""
	if check.Known {
		id := *resp.User
		id.Mobile = mobile
		id.Normalize()
		f.identity = id
		check.Identity = &id
	}
	f.mobileChecked = true
	f.needsDetails = !check.Known || f.identity.Validate() != nil
	check.NeedsDetails = f.needsDetails
	f.setState(IdentityCollecting)

	logger.InfoContext(ctx, "Identity checked", "known", check.Known, "needs_details", check.NeedsDetails)
	return check, nil
}

// SubmitDetails records name and email for a mobile number the backend does
// not know yet.
func (f *Flow) SubmitDetails(ctx context.Context, name, email string) (domain.Identity, error) {
	v, err := f.step(ctx, "details|"+name+"|"+email, func(ctx context.Context) (any, error) {
		return f.submitDetails(name, email)
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return v.(domain.Identity), nil
}

func (f *Flow) submitDetails(name, email string) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != IdentityCollecting {
		return domain.Identity{}, transitionError("submit details", f.state)
	}
	if !f.mobileChecked {
		return domain.Identity{}, ErrMobileNotChecked
	}
	id := domain.Identity{Mobile: f.identity.Mobile, Name: name, Email: email}
	id.Normalize()
	if err := id.Validate(); err != nil {
		return domain.Identity{}, err
	}
	f.identity = id
	f.needsDetails = false
	f.setState(IdentityCollecting)
	return id, nil
}

// RequestOTP asks the backend to send a code to the checked mobile number.
// Calling it again while an OTP is pending resends.
func (f *Flow) RequestOTP(ctx context.Context) error {
	_, err := f.step(ctx, "otp", func(ctx context.Context) (any, error) {
		return nil, f.requestOTP(ctx)
	})
	return err
}

func (f *Flow) requestOTP(ctx context.Context) error {
	f.mu.Lock()
	st := f.state
	id := f.identity
	checked, needsDetails := f.mobileChecked, f.needsDetails
	f.mu.Unlock()

	if st != IdentityCollecting && st != OTPPending {
		return transitionError("request an OTP", st)
	}
	if !checked {
		return ErrMobileNotChecked
	}
	if needsDetails {
		return ErrIdentityIncomplete
	}

	if err := f.api.SendOTP(ctx, apiclient.SendOTPRequest{PhoneNumber: id.Mobile, UserName: id.Name}); err != nil {
		logger.WarnContext(ctx, "OTP request failed", "error", err)
		return err
	}

	f.mu.Lock()
	f.setState(OTPPending)
	f.mu.Unlock()

	f.publish(ctx, events.OTPRequested, events.OTPEvent{Mobile: id.Mobile, OccurredAt: f.now().UTC()})
	logger.InfoContext(ctx, "OTP requested")
	return nil
}

// VerifyOTP submits one code. A rejected code leaves the flow waiting for
// another attempt; nothing else changes.
func (f *Flow) VerifyOTP(ctx context.Context, otp string) error {
	otp = strings.TrimSpace(otp)
	_, err := f.step(ctx, "verify|"+otp, func(ctx context.Context) (any, error) {
		return nil, f.verifyOTP(ctx, otp)
	})
	return err
}

func (f *Flow) verifyOTP(ctx context.Context, otp string) error {
	f.mu.Lock()
	st := f.state
	mobile := f.identity.Mobile
	f.mu.Unlock()

	if st != OTPPending {
		return transitionError("verify an OTP", st)
	}
	if err := domain.ValidateOTP(otp); err != nil {
		return err
	}

	resp, err := f.api.VerifyOTP(ctx, apiclient.VerifyOTPRequest{PhoneNumber: mobile, OTP: otp})
	if err != nil {
		logger.WarnContext(ctx, "OTP verification failed", "error", err)
		return err
	}

	f.mu.Lock()
	f.userID = resp.UserID
	f.created = false
	f.setState(OTPVerified)
	f.mu.Unlock()

	f.publish(ctx, events.OTPVerified, events.OTPEvent{Mobile: mobile, OccurredAt: f.now().UTC()})
	logger.InfoContext(ctx, "OTP verified")
	return nil
}

// CreateBooking books the selected vehicle for the verified identity. A
// verification pays for one create attempt: if the call fails the flow goes
// back to identity collection and a new OTP is needed.
func (f *Flow) CreateBooking(ctx context.Context) (domain.Booking, error) {
	v, err := f.step(ctx, "create", func(ctx context.Context) (any, error) {
		return f.createBooking(ctx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return v.(domain.Booking), nil
}

func (f *Flow) createBooking(ctx context.Context) (domain.Booking, error) {
	f.mu.Lock()
	st := f.state
	created := f.created
	c := f.criteria
	id := f.identity
	userID := f.userID
	var selected catalog.VehicleOption
	if f.selected != nil {
		selected = *f.selected
	}
	f.mu.Unlock()

	if st != OTPVerified {
		return domain.Booking{}, transitionError("create a booking", st)
	}
	if created {
		return domain.Booking{}, ErrBookingAlreadyCreated
	}
	vehicleType, err := catalog.BackendType(selected.Type)
	if err != nil {
		return domain.Booking{}, err
	}

	req := apiclient.CreateBookingRequest{
		Name:        id.Name,
		Email:       id.Email,
		Mobile:      id.Mobile,
		UserID:      userID,
		Pickup:      c.Pickup,
		Drop:        c.Drop,
		TravelDate:  c.DepartureDate,
		TravelTime:  c.DepartureTime,
		TravelType:  c.TravelType,
		VehicleType: vehicleType,
		Passengers:  c.Passengers,
		Price:       selected.Price,
	}

	resp, err := f.api.CreateBooking(ctx, req)
	if err != nil {
		if apiclient.IsNetwork(err) {
			f.reportOrphan(ctx, c, id.Mobile, "create outcome unknown: "+err.Error())
		}
		f.mu.Lock()
		f.setState(IdentityCollecting)
		f.mu.Unlock()
		logger.ErrorContext(ctx, "Booking creation failed", "error", err)
		return domain.Booking{}, err
	}

	f.mu.Lock()
	f.created = true
	f.lastActive = f.now()
	f.mu.Unlock()

	switch {
	case resp.Booking != nil && resp.Booking.ID != "":
		return f.finish(ctx, *resp.Booking), nil
	case resp.BookingID != "":
		return f.finish(ctx, bookingFromRequest(resp.BookingID, req)), nil
	}
	return f.confirm(ctx)
}

func bookingFromRequest(id string, req apiclient.CreateBookingRequest) domain.Booking {
	return domain.Booking{
		ID:          id,
		TravelDate:  req.TravelDate,
		TravelTime:  req.TravelTime,
		VehicleType: req.VehicleType,
		Passengers:  req.Passengers,
		Pickup:      req.Pickup,
		Drop:        req.Drop,
		Price:       req.Price,
		Name:        req.Name,
		Email:       req.Email,
		Mobile:      req.Mobile,
		Status:      domain.BookingPending,
	}
}

// ConfirmBooking retries the confirmation lookup for a booking that was
// created but could not be identified yet.
func (f *Flow) ConfirmBooking(ctx context.Context) (domain.Booking, error) {
	v, err := f.step(ctx, "confirm", func(ctx context.Context) (any, error) {
		f.mu.Lock()
		st, created := f.state, f.created
		f.mu.Unlock()
		if st != OTPVerified || !created {
			return domain.Booking{}, transitionError("confirm a booking", st)
		}
		return f.confirm(ctx)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return v.(domain.Booking), nil
}

func (f *Flow) confirm(ctx context.Context) (domain.Booking, error) {
	f.mu.Lock()
	c := f.criteria
	mobile := f.identity.Mobile
	f.mu.Unlock()

	b, err := Confirm(ctx, f.api, c, mobile)
	if err != nil {
		if errors.Is(err, ErrConfirmationAmbiguous) {
			f.reportOrphan(ctx, c, mobile, err.Error())
		} else {
			logger.WarnContext(ctx, "Booking created but confirmation lookup failed", "error", err)
		}
		return domain.Booking{}, err
	}
	return f.finish(ctx, b), nil
}

// Confirm finds the booking just created for the criteria and mobile number.
// Exactly one match is required; zero or several cannot be told apart.
func Confirm(ctx context.Context, api Backend, c domain.SearchCriteria, mobile string) (domain.Booking, error) {
	list, err := api.SearchBookings(ctx, apiclient.SearchBookingsRequest{SearchCriteria: c, Mobile: mobile})
	if err != nil {
		return domain.Booking{}, err
	}
	matches := uniqueMatches(list, c, mobile)
	if len(matches) != 1 {
		return domain.Booking{}, fmt.Errorf("%w: %d matching bookings", ErrConfirmationAmbiguous, len(matches))
	}
	return matches[0], nil
}

func uniqueMatches(list []domain.Booking, c domain.SearchCriteria, mobile string) []domain.Booking {
	var out []domain.Booking
	seen := make(map[string]bool, len(list))
	for _, b := range list {
		if !b.Matches(c, mobile) {
			continue
		}
		if b.ID != "" {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
		}
		out = append(out, b)
	}
	return out
}

func (f *Flow) finish(ctx context.Context, b domain.Booking) domain.Booking {
	f.mu.Lock()
	f.booking = &b
	f.setState(Confirmed)
	f.mu.Unlock()

	f.publish(ctx, events.BookingCreated, events.BookingCreatedEvent{
		BookingID:   b.ID,
		Mobile:      b.Mobile,
		VehicleType: b.VehicleType,
		Pickup:      b.Pickup,
		Drop:        b.Drop,
		TravelDate:  b.TravelDate,
		TravelTime:  b.TravelTime,
		Price:       b.Price,
		CreatedAt:   f.now().UTC(),
	})
	logger.InfoContext(ctx, "Booking confirmed", "booking_id", b.ID, "vehicle_type", b.VehicleType)
	return b
}

func (f *Flow) reportOrphan(ctx context.Context, c domain.SearchCriteria, mobile, reason string) {
	logger.ErrorContext(ctx, "Booking may exist on the backend without a client record",
		"reason", reason,
		"pickup", c.Pickup,
		"drop", c.Drop,
		"travel_date", c.DepartureDate,
	)
	f.publish(ctx, events.BookingOrphaned, events.BookingOrphanedEvent{
		Mobile:     mobile,
		Pickup:     c.Pickup,
		Drop:       c.Drop,
		TravelDate: c.DepartureDate,
		Reason:     reason,
		OccurredAt: f.now().UTC(),
	})
}

// Snapshot is a read-only view of a flow.
type Snapshot struct {
	ID                   string                 `json:"id"`
	State                State                  `json:"state"`
	Criteria             *domain.SearchCriteria `json:"criteria,omitempty"`
	Results              *SearchResult          `json:"results,omitempty"`
	Selected             *catalog.VehicleOption `json:"selected,omitempty"`
	Identity             *domain.Identity       `json:"identity,omitempty"`
	NeedsDetails         bool                   `json:"needsDetails"`
	AwaitingConfirmation bool                   `json:"awaitingConfirmation"`
	Booking              *domain.Booking        `json:"booking,omitempty"`
	LastActive           time.Time              `json:"lastActive"`
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		ID:                   f.id,
		State:                f.state,
		NeedsDetails:         f.needsDetails,
		AwaitingConfirmation: f.state == OTPVerified && f.created,
		LastActive:           f.lastActive,
	}
	if f.criteria != (domain.SearchCriteria{}) {
		c := f.criteria
		s.Criteria = &c
	}
	if f.results != nil {
		r := *f.results
		r.Vehicles = append([]catalog.VehicleOption(nil), r.Vehicles...)
		s.Results = &r
	}
	if f.selected != nil {
		v := *f.selected
		s.Selected = &v
	}
	if f.identity != (domain.Identity{}) {
		id := f.identity
		s.Identity = &id
	}
	if f.booking != nil {
		b := *f.booking
		s.Booking = &b
	}
	return s
}
