package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"txn-features/internal/core"
	"txn-features/internal/database"
	"txn-features/internal/source"
	"txn-features/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
)

// maxRequestBytes bounds request bodies; a batch of a few thousand
// transactions fits comfortably.
const maxRequestBytes = 8 << 20

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

func ParseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return data, CodedErrorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		slog.Warn("error parsing request body", "path", r.URL.Path, "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request body: %v", err)
	}
	return data, nil
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := queryDecoder.Decode(&data, r.URL.Query()); err != nil {
		slog.Warn("error decoding query params", "path", r.URL.Path, "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params: %v", err)
	}
	return data, nil
}

// RestHandler adapts a handler returning a response value to http. Errors are
// written as api.ErrorResponse with the status of their codedError, or 500.
func RestHandler(handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		}

		res, err := handler(r)
		if err != nil {
			code := http.StatusInternalServerError
			var cerr *codedError
			if errors.As(err, &cerr) {
				code = cerr.code
			}
			if code >= http.StatusInternalServerError {
				slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
			}
			writeJson(w, code, api.ErrorResponse{Status: code, Error: err.Error()})
			return
		}

		if res == nil {
			res = struct{}{}
		}

		WriteJsonResponse(w, res)
	}
}

func WriteJsonResponse(w http.ResponseWriter, data any) {
	writeJson(w, http.StatusOK, data)
}

func writeJson(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	param := chi.URLParam(r, key)

	if len(param) == 0 {
		return uuid.Nil, CodedErrorf(http.StatusBadRequest, "missing {%v} url parameter", key)
	}

	id, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, CodedErrorf(http.StatusBadRequest, "invalid uuid '%v' url parameter provided: %w", key, err)
	}

	return id, nil
}

// pipelineError maps preprocessing and lookup failures onto status codes.
func pipelineError(err error) error {
	switch {
	case errors.Is(err, core.ErrContractNotEstablished):
		return CodedError(http.StatusServiceUnavailable, err)
	case errors.Is(err, source.ErrSourceNotFound), errors.Is(err, database.ErrRunNotFound):
		return CodedError(http.StatusNotFound, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

var prefixPattern = regexp.MustCompile(`^[\w\-./]*$`)

func validatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return CodedErrorf(http.StatusUnprocessableEntity, "invalid prefix '%s' provided: only alphanumeric characters, underscores, hyphens, dots and slashes are allowed", prefix)
	}
	for _, part := range strings.Split(prefix, "/") {
		if part == ".." {
			return CodedErrorf(http.StatusUnprocessableEntity, "invalid prefix '%s' provided: '..' is not allowed", prefix)
		}
	}
	return nil
}
