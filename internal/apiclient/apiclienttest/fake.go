// Package apiclienttest runs an in-memory stand-in for the booking backend so
// client, flow and admin code can be tested over real HTTP.
package apiclienttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ValidOTP      = "123456"
	AdminEmail    = "admin@luxsuv.example"
	AdminPassword = "admin-pass"
	signingSecret = "fake-backend-secret"
)

// Options tune the fake's answers.
type Options struct {
	// AvailabilityStatus forces /available-taxis to answer with this status.
	AvailabilityStatus int
	// Available lists the vehicle types returned by /available-taxis.
	Available []string
	// AvailabilityKey names the response list ("availableTaxis" by default).
	AvailabilityKey string
	// CreateReturnsBooking makes /create answer with the canonical booking.
	CreateReturnsBooking bool
	// DuplicateOnSearch makes /search-bookings return every match twice.
	DuplicateOnSearch bool
	// RejectAll makes every authenticated route answer 401.
	RejectAll bool
}

// Backend is the fake.
type Backend struct {
	Server *httptest.Server

	mu       sync.Mutex
	options  Options
	users    map[string]domain.User // by mobile
	creds    map[string]string      // email -> password
	bookings []domain.Booking
	otps     map[string]string // mobile or admin email -> pending code
	nextID   int
	requests []Request
}

// Request is a recorded call.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

func New() *Backend {
	b := &Backend{
		options: Options{
			Available:       []string{"hatchback", "Sedan", "suv", "prime_suv"},
			AvailabilityKey: "availableTaxis",
		},
		users:  make(map[string]domain.User),
		creds:  make(map[string]string),
		otps:   make(map[string]string),
		nextID: 1,
	}
	b.Server = httptest.NewServer(b.routes())
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) Close() { b.Server.Close() }

// Set changes the fake's options.
func (b *Backend) Set(fn func(o *Options)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.options)
}

func (b *Backend) opts() Options {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.options
}

// AddUser registers an existing account with a password.
func (b *Backend) AddUser(u domain.User, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.ID == "" {
		u.ID = fmt.Sprintf("u%d", len(b.users)+1)
	}
	b.users[u.Mobile] = u
	if u.Email != "" {
		b.creds[u.Email] = password
	}
}

// AddBooking seeds a booking, assigning an id when missing.
func (b *Backend) AddBooking(bk domain.Booking) domain.Booking {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bk.ID == "" {
		bk.ID = b.newID()
	}
	b.bookings = append(b.bookings, bk)
	return bk
}

func (b *Backend) Bookings() []domain.Booking {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Booking(nil), b.bookings...)
}

func (b *Backend) Users() []domain.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.User, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, u)
	}
	return out
}

// Requests returns recorded calls whose path starts with prefix.
func (b *Backend) Requests(prefix string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Request
	for _, r := range b.requests {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// Token mints a token the fake accepts for the given role.
func Token(subject, role string) string {
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": subject,
		"role":  role,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
	if err != nil {
		panic(err)
	}
	return tok
}

func (b *Backend) newID() string {
	id := fmt.Sprintf("BK%04d", b.nextID)
	b.nextID++
	return id
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record)

	r.Post("/api/auth/login", b.login)
	r.Post("/api/auth/signup", b.signup)
	r.With(b.requireRole("user")).Get("/api/auth/getuserdata", b.userData)
	r.Post("/api/auth/check-number", b.checkNumber)
	r.Post("/api/auth/send-otp", b.sendOTP)
	r.Post("/api/auth/verify-otp", b.verifyOTP)
	r.Post("/api/auth/create", b.createBooking)
	r.Post("/api/auth/available-taxis", b.availableTaxis)
	r.Post("/api/auth/search-bookings", b.searchBookings)
	r.Post("/api/contact/store", b.contact)

	r.Post("/api/admin/login", b.adminLogin)
	r.Post("/api/admin/verify-otp", b.adminVerifyOTP)
	r.Group(func(r chi.Router) {
		r.Use(b.requireRole("admin"))
		r.Get("/api/admin/users", b.adminUsers)
		r.Put("/api/admin/users/update/{id}", b.adminUpdateUser)
		r.Delete("/api/admin/users/{id}", b.adminDeleteUser)
		r.Get("/api/admin/bookings", b.adminBookings(false))
		r.Get("/api/admin/pastbookings", b.adminBookings(true))
		r.Post("/api/bookings/cancel/{id}", b.cancelBooking)
	})
	return r
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		b.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if b.opts().RejectAll {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Token expired"})
				return
			}
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
				return []byte(signingSecret), nil
			})
			if err != nil || !tok.Valid || claims["role"] != role {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var in domain.Credentials
	if !decode(w, r, &in) {
		return
	}
	b.mu.Lock()
	pass, ok := b.creds[in.Email]
	b.mu.Unlock()
	if !ok || pass != in.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid email or password"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": Token(in.Email, "user")})
}

func (b *Backend) signup(w http.ResponseWriter, r *http.Request) {
	var in domain.SignupRequest
	if !decode(w, r, &in) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[in.Mobile]; exists {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "Mobile number already registered"})
		return
	}
	b.users[in.Mobile] = domain.User{ID: fmt.Sprintf("u%d", len(b.users)+1), Username: in.Username, Name: in.Name, Email: in.Email, Mobile: in.Mobile}
	b.creds[in.Email] = in.Password
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (b *Backend) userData(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	_, _, _ = jwt.NewParser().ParseUnverified(raw, claims)
	email, _ := claims["email"].(string)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range b.users {
		if u.Email == email {
			writeJSON(w, http.StatusOK, map[string]any{"user": u})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "User not found"})
}

func (b *Backend) checkNumber(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Mobile string `json:"mobile"`
	}
	if !decode(w, r, &in) {
		return
	}
	b.mu.Lock()
	u, ok := b.users[in.Mobile]
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"exists": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exists": true,
		"user":   map[string]string{"name": u.Name, "email": u.Email, "mobile": u.Mobile},
	})
}

func (b *Backend) sendOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PhoneNumber string `json:"phoneNumber"`
		UserName    string `json:"userName"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.PhoneNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Phone number is required"})
		return
	}
	b.mu.Lock()
	b.otps[in.PhoneNumber] = ValidOTP
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PhoneNumber string `json:"phoneNumber"`
		OTP         string `json:"otp"`
	}
	if !decode(w, r, &in) {
		return
	}
	b.mu.Lock()
	code, ok := b.otps[in.PhoneNumber]
	if ok && code == in.OTP {
		delete(b.otps, in.PhoneNumber)
	}
	b.mu.Unlock()
	if !ok || code != in.OTP {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid OTP"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": "u-" + in.PhoneNumber})
}

func (b *Backend) createBooking(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Mobile      string `json:"mobile"`
		Pickup      string `json:"pickupLocation"`
		Drop        string `json:"dropLocation"`
		TravelDate  string `json:"travelDate"`
		TravelTime  string `json:"travelTime"`
		VehicleType string `json:"vehicleType"`
		Passengers  int    `json:"passengers"`
		Price       int    `json:"price"`
	}
	if !decode(w, r, &in) {
		return
	}
	switch in.VehicleType {
	case "Hatchback", "Sedan", "SUV", "Prime_SUV":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid vehicle type"})
		return
	}
	b.mu.Lock()
	bk := domain.Booking{
		ID:          b.newID(),
		TravelDate:  in.TravelDate,
		TravelTime:  in.TravelTime,
		VehicleType: in.VehicleType,
		Passengers:  in.Passengers,
		Pickup:      in.Pickup,
		Drop:        in.Drop,
		Price:       in.Price,
		Name:        in.Name,
		Email:       in.Email,
		Mobile:      in.Mobile,
		Status:      domain.BookingUpcoming,
		BookingDate: time.Now().UTC().Truncate(time.Second),
	}
	b.bookings = append(b.bookings, bk)
	b.mu.Unlock()

	if b.opts().CreateReturnsBooking {
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "booking": bk})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (b *Backend) availableTaxis(w http.ResponseWriter, r *http.Request) {
	o := b.opts()
	if o.RejectAll && r.Header.Get("Authorization") != "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Token expired"})
		return
	}
	if o.AvailabilityStatus != 0 {
		writeJSON(w, o.AvailabilityStatus, map[string]any{"success": false, "message": "availability service down"})
		return
	}
	list := make([]map[string]any, 0, len(o.Available))
	for _, t := range o.Available {
		list = append(list, map[string]any{"vehicleType": t, "count": 1})
	}
	writeJSON(w, http.StatusOK, map[string]any{o.AvailabilityKey: list})
}

func (b *Backend) searchBookings(w http.ResponseWriter, r *http.Request) {
	var in struct {
		domain.SearchCriteria
		Mobile string `json:"mobile"`
	}
	if !decode(w, r, &in) {
		return
	}
	b.mu.Lock()
	var out []domain.Booking
	for _, bk := range b.bookings {
		if bk.Matches(in.SearchCriteria, in.Mobile) {
			out = append(out, bk)
			if b.options.DuplicateOnSearch {
				out = append(out, bk)
			}
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (b *Backend) contact(w http.ResponseWriter, r *http.Request) {
	var in domain.ContactMessage
	if !decode(w, r, &in) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (b *Backend) adminLogin(w http.ResponseWriter, r *http.Request) {
	var in domain.Credentials
	if !decode(w, r, &in) {
		return
	}
	if in.Email != AdminEmail || in.Password != AdminPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid admin credentials"})
		return
	}
	b.mu.Lock()
	b.otps[in.Email] = ValidOTP
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "OTP sent"})
}

func (b *Backend) adminVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decode(w, r, &in) {
		return
	}
	b.mu.Lock()
	code, ok := b.otps[in.Email]
	if ok && code == in.OTP {
		delete(b.otps, in.Email)
	}
	b.mu.Unlock()
	if !ok || code != in.OTP {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid OTP"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": Token(in.Email, "admin")})
}

func (b *Backend) adminUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": b.Users()})
}

func (b *Backend) adminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch domain.UserPatch
	if !decode(w, r, &patch) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for mobile, u := range b.users {
		if u.ID != id {
			continue
		}
		if patch.Name != nil {
			u.Name = *patch.Name
		}
		if patch.Email != nil {
			u.Email = *patch.Email
		}
		if patch.Username != nil {
			u.Username = *patch.Username
		}
		if patch.Mobile != nil {
			delete(b.users, mobile)
			u.Mobile = *patch.Mobile
		}
		b.users[u.Mobile] = u
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "User not found"})
}

func (b *Backend) adminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for mobile, u := range b.users {
		if u.ID == id {
			delete(b.users, mobile)
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "User not found"})
}

func (b *Backend) adminBookings(past bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		var out []domain.Booking
		for _, bk := range b.Bookings() {
			if bk.IsPast(now) == past {
				out = append(out, bk)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
	}
}

func (b *Backend) cancelBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, bk := range b.bookings {
		if bk.ID == id {
			b.bookings[i].Status = domain.BookingCancelled
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Booking not found"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid JSON"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
