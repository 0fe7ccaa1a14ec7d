package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"accountsvc/internal/service"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	Accounts *service.AccountService
}

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &api{
		logger:   logger,
		dbPing:   opts.DBPing,
		accounts: opts.Accounts,
	}

	routes := []route{
		{http.MethodGet, "/healthz", a.handleHealthz},
	}
	if a.accounts != nil {
		routes = append(routes,
			route{http.MethodPost, "/user/register", a.handleRegister},
			route{http.MethodPost, "/user/verification", a.handleVerification},
			route{http.MethodPost, "/user/generate/link", a.handleGenerateLink},
			route{http.MethodPost, "/user/reset-password/generate/link", a.handleGenerateResetLink},
			route{http.MethodPatch, "/user/forget/password", a.handleForgetPassword},
			route{http.MethodPost, "/user/otp/verification", a.handleVerifyOTP},
			route{http.MethodPost, "/user/login", a.handleLogin},
			route{http.MethodPatch, "/user/reset/password", a.handleChangePassword},
			route{http.MethodPatch, "/user/magic-password", a.handleMagicPassword},
			route{http.MethodPost, "/user/delete", a.handleDelete},
		)
	}

	mux := http.NewServeMux()
	allowed := map[string][]string{}
	for _, rt := range routes {
		mux.HandleFunc(rt.method+" "+rt.path, rt.handler)
		allowed[rt.path] = append(allowed[rt.path], rt.method)
	}
	for path, methods := range allowed {
		mux.HandleFunc(path, methodNotAllowed(methods))
	}
	mux.HandleFunc("/", handleNotFound)

	var h http.Handler = mux
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func methodNotAllowed(methods []string) http.HandlerFunc {
	list := append([]string(nil), methods...)
	for _, m := range methods {
		if m == http.MethodGet {
			list = append(list, http.MethodHead)
		}
	}
	sort.Strings(list)
	allow := strings.Join(list, ", ")

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", allow)
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger

	dbPing func(context.Context) error

	accounts *service.AccountService
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			a.logger.WarnContext(r.Context(), "store ping failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
