package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxBodySize caps JSON request bodies on the API routes
const MaxBodySize = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// DecodeJSON strictly decodes one JSON document from the request body into dst.
// Errors are phrased for API clients rather than leaking decoder internals.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return describeDecodeError(err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func describeDecodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.As(err, &syntaxErr):
		return fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return errors.New("malformed JSON: unexpected end of input")
	case errors.As(err, &typeErr):
		return fmt.Errorf("invalid value for field %q: expected %s", typeErr.Field, typeErr.Type)
	case errors.As(err, &sizeErr):
		return fmt.Errorf("request body exceeds maximum size of %d bytes", MaxBodySize)
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return fmt.Errorf("unknown field %s", field)
	}
	return errors.New("invalid JSON in request body")
}

// DecodeOptionalJSON is DecodeJSON for bodies that may be omitted. An absent body leaves dst untouched.
func DecodeOptionalJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return DecodeJSON(r, dst)
}

// Bind decodes and validates the body into dst. On failure it writes the 400 or 422
// response itself and returns false.
func Bind(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return bind(w, dst, DecodeJSON(r, dst))
}

// BindOptional is Bind for bodies that may be omitted
func BindOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return bind(w, dst, DecodeOptionalJSON(r, dst))
}

func bind(w http.ResponseWriter, dst interface{}, decodeErr error) bool {
	if decodeErr != nil {
		RespondError(w, http.StatusBadRequest, decodeErr.Error())
		return false
	}
	if fieldErrors := Validate(dst); fieldErrors != nil {
		RespondValidationError(w, fieldErrors)
		return false
	}
	return true
}
