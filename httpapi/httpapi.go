// Package httpapi exposes registered engine operations over HTTP.
//
// Every operation "table:op" is served at POST /api/{table}/{op}. The
// request body is the JSON argument object; the response is the JSON
// result, or an apierr.Error with a status derived from its code.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jacentio/canopy/apierr"
	"github.com/jacentio/canopy/crud"
)

// DefaultMaxBody caps request bodies.
const DefaultMaxBody = 1 << 20

// Dispatcher runs a named operation. *crud.Engine satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, raw json.RawMessage) (any, error)
}

// Authenticator resolves the caller of a request. An empty id with a nil
// error is an anonymous caller.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (string, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) { return f(r) }

// HeaderAuth trusts a header set by an upstream gateway that has already
// verified the caller.
func HeaderAuth(name string) Authenticator {
	return AuthenticatorFunc(func(r *http.Request) (string, error) {
		return r.Header.Get(name), nil
	})
}

// Options configure the router.
type Options struct {
	Logger *slog.Logger

	// MaxBody caps request bodies in bytes.
	// Default: DefaultMaxBody
	MaxBody int64

	// ExposeDebug keeps apierr.Error.Debug in responses. Off in production.
	ExposeDebug bool
}

type server struct {
	d      Dispatcher
	auth   Authenticator
	opts   Options
	logger *slog.Logger
}

// NewRouter returns a router serving d.
func NewRouter(d Dispatcher, auth Authenticator, opts Options) *mux.Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	if auth == nil {
		auth = AuthenticatorFunc(func(*http.Request) (string, error) { return "", nil })
	}
	s := &server{d: d, auth: auth, opts: opts, logger: opts.Logger}

	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/{table}/{op}", s.handleOperation).Methods(http.MethodPost)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, apierr.New(apierr.NotFound, "").WithDebug("no route for %s %s", r.Method, r.URL.Path))
	})
	return router
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["table"] + ":" + vars["op"]

	user, err := s.auth.Authenticate(r)
	if err != nil {
		s.fail(w, r, apierr.New(apierr.NotAuthenticated, name).WithDebug("%v", err))
		return
	}
	ctx := r.Context()
	if user != "" {
		ctx = crud.WithUserID(ctx, user)
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, apierr.New(apierr.LimitExceeded, name).WithDebug("request body over %d bytes", tooLarge.Limit))
			return
		}
		s.fail(w, r, apierr.New(apierr.ValidationFailed, name).WithDebug("read body: %v", err))
		return
	}
	if len(raw) > 0 && !json.Valid(raw) {
		s.fail(w, r, apierr.New(apierr.ValidationFailed, name).WithDebug("request body is not JSON"))
		return
	}

	out, err := s.d.Dispatch(ctx, name, raw)
	if err != nil {
		s.fail(w, r, apierr.As(err, name))
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, e *apierr.Error) {
	status := StatusOf(e.Code)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"code", e.Code,
			"error", e.Debug,
		)
	}
	if !s.opts.ExposeDebug {
		c := *e
		c.Debug = ""
		e = &c
	}
	respondError(w, e)
}

// StatusOf maps an error code to an HTTP status.
func StatusOf(code apierr.Code) int {
	switch code {
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.NotAuthenticated:
		return http.StatusUnauthorized
	case apierr.NotAuthorized, apierr.Forbidden, apierr.NotOrgMember, apierr.InsufficientOrgRole,
		apierr.CannotModifyOwner, apierr.CannotModifyAdmin:
		return http.StatusForbidden
	case apierr.Conflict, apierr.OrgSlugTaken, apierr.AlreadyOrgMember, apierr.JoinRequestExists:
		return http.StatusConflict
	case apierr.RateLimited:
		return http.StatusTooManyRequests
	case apierr.InviteExpired:
		return http.StatusGone
	case apierr.LimitExceeded, apierr.ValidationFailed, apierr.InvalidWhere, apierr.InvalidInvite,
		apierr.TargetMustBeAdmin:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		response, _ = json.Marshal(apierr.New(apierr.Internal, ""))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, e *apierr.Error) {
	if e.RetryAfter > 0 {
		// Retry-After is in whole seconds.
		secs := (e.RetryAfter + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	respondJSON(w, StatusOf(e.Code), map[string]*apierr.Error{"error": e})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
