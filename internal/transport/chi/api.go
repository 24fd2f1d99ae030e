package chi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ErrorResponseCode is a machine-readable error code.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest           ErrorResponseCode = "bad_request"
	ErrorResponseCodeUnauthorized         ErrorResponseCode = "unauthorized"
	ErrorResponseCodeValidationFailed     ErrorResponseCode = "validation_failed"
	ErrorResponseCodeSearchUnavailable    ErrorResponseCode = "search_unavailable"
	ErrorResponseCodeEmbeddingUnavailable ErrorResponseCode = "embedding_unavailable"
	ErrorResponseCodeRateLimited          ErrorResponseCode = "rate_limited"
	ErrorResponseCodeInternalError        ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// RetrieveRequest is the POST /retrieve body. k and weight accept numbers
// or numeric strings; anything else falls back to the defaults.
type RetrieveRequest struct {
	Question string
	K        int
	Weight   float64
	LLM      string
}

type retrieveRequestJSON struct {
	Question string          `json:"question"`
	K        json.RawMessage `json:"k"`
	Weight   json.RawMessage `json:"weight"`
	LLM      *string         `json:"llm"`
}

// UnmarshalJSON implements tolerant decoding of k and weight.
func (r *RetrieveRequest) UnmarshalJSON(data []byte) error {
	var raw retrieveRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode retrieve request: %w", err)
	}
	r.Question = raw.Question
	r.K = int(looseNumber(raw.K))
	r.Weight = looseNumber(raw.Weight)
	r.LLM = ""
	if raw.LLM != nil {
		r.LLM = *raw.LLM
	}
	return nil
}

// looseNumber reads a JSON number or a string holding one. Anything else is 0.
func looseNumber(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
	} else {
		s = string(raw)
	}
	return looseString(s)
}

// looseString parses a number, returning 0 for anything that is not one.
func looseString(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// RetrieveResponse is the POST /retrieve answer. It is always sent with 200.
type RetrieveResponse struct {
	Response []string `json:"response"`
	Error    string   `json:"error,omitempty"`
}

// SearchParams are the GET /search query parameters. K and Weight are kept
// as text and read like the POST body: anything non-numeric means the default.
type SearchParams struct {
	Question string  `form:"question" json:"question"`
	K        *string `form:"k,omitempty" json:"k,omitempty"`
	Weight   *string `form:"weight,omitempty" json:"weight,omitempty"`
	LLM      *string `form:"llm,omitempty" json:"llm,omitempty"`
}

// SearchResultItem is one ranked identifier with its fused score.
type SearchResultItem struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Title string  `json:"title,omitempty"`
}

// SearchResponse is the GET /search answer. Error is set when a requested
// refinement failed and Items is the unrefined ranking.
type SearchResponse struct {
	Items      []SearchResultItem `json:"items"`
	Mode       string             `json:"mode"`
	Judge      string             `json:"judge,omitempty"`
	Refinement string             `json:"refinement,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// HealthResponse is the GET /health answer.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServerInterface is the HTTP surface.
type ServerInterface interface {
	// Retrieve handles POST /retrieve.
	Retrieve(w http.ResponseWriter, r *http.Request)
	// Search handles GET /search.
	Search(w http.ResponseWriter, r *http.Request, params SearchParams)
	// HealthCheck handles GET /health.
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// Metrics handles GET /metrics.
	Metrics(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError reports a query parameter that failed to bind.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// RequiredParamError reports a missing required query parameter.
type RequiredParamError struct {
	ParamName string
}

func (e *RequiredParamError) Error() string {
	return fmt.Sprintf("Query argument %s is required, but not found", e.ParamName)
}

// ServerInterfaceWrapper binds parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// Search binds the query string into SearchParams.
func (siw *ServerInterfaceWrapper) Search(w http.ResponseWriter, r *http.Request) {
	var params SearchParams
	query := r.URL.Query()

	if !query.Has("question") {
		siw.ErrorHandlerFunc(w, r, &RequiredParamError{ParamName: "question"})
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "question", query, &params.Question); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "question", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "k", query, &params.K); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "k", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "weight", query, &params.Weight); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "weight", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "llm", query, &params.LLM); err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "llm", Err: err})
		return
	}

	siw.Handler.Search(w, r, params)
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions mounts si on the router.
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
	wrapper := ServerInterfaceWrapper{Handler: si, ErrorHandlerFunc: options.ErrorHandlerFunc}

	r.Post("/retrieve", si.Retrieve)
	r.Get("/search", wrapper.Search)
	r.Get("/health", si.HealthCheck)
	r.Get("/metrics", si.Metrics)
	return r
}
