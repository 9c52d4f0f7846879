/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package diag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/acronis/go-quotakit/log"
)

// ErrorDomain is used in all error responses of the diagnostics API.
const ErrorDomain = "QuotaKit"

const contentTypeAppJSON = "application/json"

// maxRequestBodySize limits bodies of the control requests.
const maxRequestBodySize = 64 * 1024

// Error codes.
const (
	ErrCodeInternal         = "internalError"
	ErrCodeNotFound         = "notFound"
	ErrCodeMethodNotAllowed = "methodNotAllowed"
	ErrCodeBadRequest       = "badRequest"
)

// Error represents an error details.
type Error struct {
	Domain  string `json:"domain"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type errorResponseData struct {
	Err *Error `json:"error"`
}

func respondJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(respData); err != nil {
		logger.Error("error while marshaling json for response body", log.Error(err))
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", contentTypeAppJSON)
	rw.WriteHeader(statusCode)
	if _, err := rw.Write(buffer.Bytes()); err != nil {
		logger.Error("error while writing response body", log.Error(err))
	}
}

func respondError(rw http.ResponseWriter, statusCode int, code, message string, logger log.FieldLogger) {
	if statusCode >= http.StatusInternalServerError {
		logger.Error("error in response", log.String("error_code", code), log.String("error_message", message))
	}
	respondJSON(rw, statusCode, errorResponseData{&Error{Domain: ErrorDomain, Code: code, Message: message}}, logger)
}

func respondInternalError(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	logger.Error("diagnostics request failed", log.Error(err))
	respondError(rw, http.StatusInternalServerError, ErrCodeInternal, "Internal error.", logger)
}

// malformedRequestError is returned when the request body cannot be decoded. Its message is shown to the client.
type malformedRequestError struct {
	Message string
}

func (e *malformedRequestError) Error() string {
	return e.Message
}

// decodeRequestJSON reads a single JSON object from the request body. Unknown fields are rejected.
func decodeRequestJSON(rw http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxRequestBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var unmarshalTypeErr *json.UnmarshalTypeError
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return &malformedRequestError{"Request body must not be empty."}
		case errors.Is(err, io.ErrUnexpectedEOF):
			return &malformedRequestError{"Request body contains badly-formed JSON."}
		case errors.As(err, &syntaxErr):
			return &malformedRequestError{fmt.Sprintf("Request body contains badly-formed JSON (at position %d).", syntaxErr.Offset)}
		case errors.As(err, &unmarshalTypeErr):
			return &malformedRequestError{fmt.Sprintf("Request body contains an invalid value for the %q field.", unmarshalTypeErr.Field)}
		case errors.As(err, &maxBytesErr):
			return &malformedRequestError{fmt.Sprintf("Request body must not be larger than %d bytes.", maxBytesErr.Limit)}
		default:
			return &malformedRequestError{fmt.Sprintf("Request body is invalid: %s.", err)}
		}
	}
	if decoder.More() {
		return &malformedRequestError{"Request body must only contain a single JSON object."}
	}
	return nil
}
