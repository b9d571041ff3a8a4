// Package handlers exposes the booking flow to the browser front end as a
// small JSON API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/luxsuv-portal/internal/catalog"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/internal/http/response"
	"github.com/diagnosis/luxsuv-portal/internal/notify"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// ContactSender stores public contact form messages.
type ContactSender interface {
	StoreContact(ctx context.Context, msg domain.ContactMessage) error
}

type FlowHandler struct {
	Flows   *Registry
	Contact ContactSender

	// OTPLimit and CreateLimit throttle the routes that cost an SMS or a new
	// flow. Nil means unlimited.
	OTPLimit    func(http.Handler) http.Handler
	CreateLimit func(http.Handler) http.Handler
}

func NewFlowHandler(flows *Registry, contact ContactSender) *FlowHandler {
	return &FlowHandler{Flows: flows, Contact: contact}
}

// Routes mounts under /v1.
func (h *FlowHandler) Routes() chi.Router {
	otpLimit, createLimit := orPass(h.OTPLimit), orPass(h.CreateLimit)

	r := chi.NewRouter()
	r.Get("/catalog", h.catalog)
	r.With(createLimit).Post("/contact", h.contact)

	r.Route("/flows", func(r chi.Router) {
		r.With(createLimit).Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Delete("/", h.abandon)
			r.Post("/search", h.search)
			r.Post("/select", h.selectVehicle)
			r.Post("/identity", h.identity)
			r.Post("/details", h.details)
			r.With(otpLimit).Post("/otp", h.requestOTP)
			r.Post("/otp/verify", h.verifyOTP)
			r.Post("/booking", h.booking)
		})
	})
	return r
}

func orPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// StepResponse is returned by every flow step: the step's own result, the
// flow as it now stands, and an optional message for the user.
type StepResponse struct {
	Flow   flow.Snapshot  `json:"flow"`
	Result any            `json:"result,omitempty"`
	Notice *notify.Notice `json:"notice,omitempty"`
}

func writeStep(w http.ResponseWriter, status int, f *flow.Flow, result any, msg string) {
	out := StepResponse{Flow: f.Snapshot(), Result: result}
	if msg != "" {
		n := notify.Success(msg)
		out.Notice = &n
	}
	response.JSON(w, status, out)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid json")
		return false
	}
	return true
}

// load resolves the {id} path parameter.
func (h *FlowHandler) load(w http.ResponseWriter, r *http.Request) (*flow.Flow, bool) {
	f, err := h.Flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusNotFound, "Your booking session has expired. Please search again.", response.CodeFlowNotFound)
		return nil, false
	}
	return f, true
}

func (h *FlowHandler) catalog(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{
		"vehicles":  catalog.All(),
		"timeSlots": domain.TimeSlots(),
	})
}

func (h *FlowHandler) contact(w http.ResponseWriter, r *http.Request) {
	var in domain.ContactMessage
	if !decode(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		response.Err(w, r, err)
		return
	}
	if err := h.Contact.StoreContact(r.Context(), in); err != nil {
		response.Err(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, notify.Success("Thank you! Your message has been sent."))
}

func (h *FlowHandler) create(w http.ResponseWriter, r *http.Request) {
	f, err := h.Flows.Create(r.Context())
	if err != nil {
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusCreated, f, nil, "")
}

func (h *FlowHandler) get(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	writeStep(w, http.StatusOK, f, nil, "")
}

func (h *FlowHandler) abandon(w http.ResponseWriter, r *http.Request) {
	if !h.Flows.Remove(chi.URLParam(r, "id")) {
		response.WriteError(w, http.StatusNotFound, ErrFlowNotFound.Error(), response.CodeFlowNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FlowHandler) search(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	var in domain.SearchCriteria
	if !decode(w, r, &in) {
		return
	}
	res, err := f.Search(r.Context(), in)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	msg := ""
	if res.Source == flow.SourceFallback {
		msg = "Live availability is unavailable right now. Showing our standard fleet."
	}
	writeStep(w, http.StatusOK, f, res, msg)
}

func (h *FlowHandler) selectVehicle(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	var in struct {
		Vehicle string `json:"vehicle"`
	}
	if !decode(w, r, &in) {
		return
	}
	v, err := f.SelectVehicle(r.Context(), in.Vehicle)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusOK, f, v, "")
}

func (h *FlowHandler) identity(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	var in struct {
		Mobile string `json:"mobile"`
	}
	if !decode(w, r, &in) {
		return
	}
	res, err := f.CheckIdentity(r.Context(), in.Mobile)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusOK, f, res, "")
}

func (h *FlowHandler) details(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	var in struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	id, err := f.SubmitDetails(r.Context(), in.Name, in.Email)
	if err != nil {
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusOK, f, id, "")
}

func (h *FlowHandler) requestOTP(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := f.RequestOTP(r.Context()); err != nil {
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusOK, f, nil, "OTP sent to your mobile number.")
}

func (h *FlowHandler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}
	var in struct {
		OTP string `json:"otp"`
	}
	if !decode(w, r, &in) {
		return
	}
	if err := f.VerifyOTP(r.Context(), in.OTP); err != nil {
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusOK, f, nil, "Mobile number verified.")
}

// booking creates the booking, or retries confirmation when a previous
// create succeeded but could not be matched to a booking. A confirmed flow
// answers with its booking again.
func (h *FlowHandler) booking(w http.ResponseWriter, r *http.Request) {
	f, ok := h.load(w, r)
	if !ok {
		return
	}

	snap := f.Snapshot()
	if snap.State.Terminal() && snap.Booking != nil {
		writeStep(w, http.StatusOK, f, *snap.Booking, "Your booking is already confirmed.")
		return
	}

	var (
		b   domain.Booking
		err error
	)
	if snap.AwaitingConfirmation {
		b, err = f.ConfirmBooking(r.Context())
	} else {
		b, err = f.CreateBooking(r.Context())
	}
	if err != nil {
		if errors.Is(err, flow.ErrConfirmationAmbiguous) {
			n := notify.FromError(err)
			response.JSON(w, n.Status, StepResponse{Flow: f.Snapshot(), Notice: &n})
			return
		}
		response.Err(w, r, err)
		return
	}
	writeStep(w, http.StatusCreated, f, b, "Your booking is confirmed.")
}
