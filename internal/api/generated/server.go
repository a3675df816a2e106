// Пакет generated — серверный интерфейс HTTP API (oapi-codegen, chi-server)
// по документу internal/api/openapi/openapi.yaml. Перегенерация: go generate ./internal/api/generated.
package generated

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// Host — имя хоста кластера в пути.
type Host = string

// GetSummaryParamsOrder defines parameters for GetSummary.
type GetSummaryParamsOrder string

// GetSummaryParams defines parameters for GetSummary.
type GetSummaryParams struct {
	Schema  *string                `form:"schema,omitempty" json:"schema,omitempty"`
	Order   *GetSummaryParamsOrder `form:"order,omitempty" json:"order,omitempty"`
	Display *string                `form:"display,omitempty" json:"display,omitempty"`
	Debug   *int                   `form:"debug,omitempty" json:"debug,omitempty"`
	Lang    *string                `form:"lang,omitempty" json:"lang,omitempty"`
}

// GetClusterParams defines parameters for GetCluster.
type GetClusterParams struct {
	Port   *int    `form:"port,omitempty" json:"port,omitempty"`
	Schema *string `form:"schema,omitempty" json:"schema,omitempty"`
}

// GetUserJobsParams defines parameters for GetUserJobs.
type GetUserJobsParams struct {
	Owner  string  `form:"owner" json:"owner"`
	Schema *string `form:"schema,omitempty" json:"schema,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// (GET /api/v1/summary)
	GetSummary(w http.ResponseWriter, r *http.Request, params GetSummaryParams)
	// (GET /api/v1/clusters/{host})
	GetCluster(w http.ResponseWriter, r *http.Request, host Host, params GetClusterParams)
	// (GET /api/v1/jobs)
	GetUserJobs(w http.ResponseWriter, r *http.Request, params GetUserJobsParams)
	// (POST /api/v1/cache/invalidate)
	InvalidateCache(w http.ResponseWriter, r *http.Request)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// MiddlewareFunc оборачивает обработчик одной операции.
type MiddlewareFunc func(http.Handler) http.Handler

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	handler := http.Handler(h)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// HealthLive operation middleware
func (siw *ServerInterfaceWrapper) HealthLive(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.HealthLive)
}

// HealthReady operation middleware
func (siw *ServerInterfaceWrapper) HealthReady(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.HealthReady)
}

// GetMetrics operation middleware
func (siw *ServerInterfaceWrapper) GetMetrics(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.GetMetrics)
}

// GetSummary operation middleware
func (siw *ServerInterfaceWrapper) GetSummary(w http.ResponseWriter, r *http.Request) {
	var err error

	// Parameter object where we will unmarshal all parameters from the context
	var params GetSummaryParams

	err = runtime.BindQueryParameter("form", true, false, "schema", r.URL.Query(), &params.Schema)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "schema", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "order", r.URL.Query(), &params.Order)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "order", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "display", r.URL.Query(), &params.Display)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "display", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "debug", r.URL.Query(), &params.Debug)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "debug", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "lang", r.URL.Query(), &params.Lang)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "lang", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetSummary(w, r, params)
	})
}

// GetCluster operation middleware
func (siw *ServerInterfaceWrapper) GetCluster(w http.ResponseWriter, r *http.Request) {
	var err error

	// ------------- Path parameter "host" -------------
	var host Host

	err = runtime.BindStyledParameterWithOptions("simple", "host", chi.URLParam(r, "host"), &host,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "host", Err: err})
		return
	}

	var params GetClusterParams

	err = runtime.BindQueryParameter("form", true, false, "port", r.URL.Query(), &params.Port)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "port", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "schema", r.URL.Query(), &params.Schema)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "schema", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetCluster(w, r, host, params)
	})
}

// GetUserJobs operation middleware
func (siw *ServerInterfaceWrapper) GetUserJobs(w http.ResponseWriter, r *http.Request) {
	var err error

	var params GetUserJobsParams

	if paramValue := r.URL.Query().Get("owner"); paramValue != "" {
	} else {
		siw.ErrorHandlerFunc(w, r, &RequiredParamError{ParamName: "owner"})
		return
	}

	err = runtime.BindQueryParameter("form", true, true, "owner", r.URL.Query(), &params.Owner)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "owner", Err: err})
		return
	}

	err = runtime.BindQueryParameter("form", true, false, "schema", r.URL.Query(), &params.Schema)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "schema", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetUserJobs(w, r, params)
	})
}

// InvalidateCache operation middleware
func (siw *ServerInterfaceWrapper) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.InvalidateCache)
}

// RequiredParamError — обязательный параметр не передан.
type RequiredParamError struct {
	ParamName string
}

func (e *RequiredParamError) Error() string {
	return fmt.Sprintf("Query argument %s is required, but not found", e.ParamName)
}

// InvalidParamFormatError — параметр не разбирается в объявленный тип.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ChiServerOptions — параметры HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Handler creates http.Handler with routing matching OpenAPI spec.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerFromMux creates http.Handler with routing matching OpenAPI spec based on the provided mux.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{
		BaseRouter: r,
	})
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health/live", wrapper.HealthLive)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health/ready", wrapper.HealthReady)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/metrics", wrapper.GetMetrics)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/summary", wrapper.GetSummary)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/clusters/{host}", wrapper.GetCluster)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/api/v1/jobs", wrapper.GetUserJobs)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/api/v1/cache/invalidate", wrapper.InvalidateCache)
	})

	return r
}
