package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Codes are grouped by category:
//
//	IMP001-IMP099   import request errors (dataset, columns, options)
//	JOB001-JOB099   job lifecycle errors (not found, finished, busy)
//	FILE001-FILE099 file errors (empty, format, size)
//	DB001-DB099     storage errors (constraints, connectivity)
//	ERR000          anything unrecognized; check the server log
//
// Sentinel errors are matched first with errors.Is, so wrapping never hides
// a known error. Errors from drivers that have no sentinel fall back to
// case-insensitive substring patterns.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/job"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type sentinelMessage struct {
	err    error
	status int
	msg    UserMessage
}

var sentinelMessages = []sentinelMessage{
	{job.ErrUnknownDataset, http.StatusBadRequest, UserMessage{
		Message: "Unknown dataset type",
		Action:  "Use products, providers, movements or auto",
		Code:    "IMP001",
	}},
	{ErrDatasetUndetected, http.StatusBadRequest, UserMessage{
		Message: "Could not tell which dataset this file contains",
		Action:  "Choose the dataset type explicitly or start from the template",
		Code:    "IMP002",
	}},
	{ErrMissingColumns, http.StatusBadRequest, UserMessage{
		Message: "Required columns are missing",
		Action:  "Check that all required columns are present in your file",
		Code:    "IMP003",
	}},
	{ErrHeaderNotFound, http.StatusBadRequest, UserMessage{
		Message: "Could not find the header row",
		Action:  "Make sure the column names appear within the first 20 rows",
		Code:    "IMP004",
	}},
	{ErrNoDataRows, http.StatusBadRequest, UserMessage{
		Message: "The file has a header but no data rows",
		Action:  "Add at least one row below the header",
		Code:    "IMP005",
	}},
	{ErrInvalidOptions, http.StatusBadRequest, UserMessage{
		Message: "Import options could not be read",
		Action:  "Send options as JSON or as true/false form fields",
		Code:    "IMP006",
	}},

	{ErrJobNotFound, http.StatusNotFound, UserMessage{
		Message: "Import job not found",
		Action:  "The job may have expired. Start a new import",
		Code:    "JOB001",
	}},
	{ErrAlreadyTerminal, http.StatusConflict, UserMessage{
		Message: "The import job has already finished",
		Action:  "Refresh the job to see its final result",
		Code:    "JOB002",
	}},
	{ErrTooManyImports, http.StatusServiceUnavailable, UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "JOB003",
	}},
	{ErrPoolClosed, http.StatusServiceUnavailable, UserMessage{
		Message: "The server is shutting down",
		Action:  "Please try again in a few moments",
		Code:    "JOB004",
	}},
	{ErrInvalidTransition, http.StatusConflict, UserMessage{
		Message: "The import job cannot change to that state",
		Action:  "Refresh the job and try again",
		Code:    "JOB005",
	}},

	{ErrEmptyFile, http.StatusBadRequest, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a file with data rows",
		Code:    "FILE001",
	}},
	{ErrNoFile, http.StatusBadRequest, UserMessage{
		Message: "No file was provided",
		Action:  "Attach the file in the \"file\" form field",
		Code:    "FILE002",
	}},
	{ErrUnsupportedFormat, http.StatusBadRequest, UserMessage{
		Message: "Unsupported file format",
		Action:  "Upload a .csv or .tsv file",
		Code:    "FILE003",
	}},
	{ErrFileTooLarge, http.StatusRequestEntityTooLarge, UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller files",
		Code:    "FILE004",
	}},

	{context.DeadlineExceeded, http.StatusGatewayTimeout, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or send it as a background import",
		Code:    "ERR001",
	}},
	{context.Canceled, 499, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "ERR002",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps driver error text (case-insensitive) to user messages.
// The first match wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this key already exists",
		Action:  "Enable overwrite to update existing records",
		Code:    "DB001",
	}},
	{"violates unique", UserMessage{
		Message: "A duplicate value was found",
		Action:  "Review your data for duplicate key values",
		Code:    "DB001",
	}},
	{"violates foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Import providers and products before movements",
		Code:    "DB002",
	}},
	{"violates check constraint", UserMessage{
		Message: "A value is outside the allowed range",
		Action:  "Check quantities and prices for negative values",
		Code:    "DB003",
	}},
	{"value too long", UserMessage{
		Message: "A value is too long",
		Action:  "Shorten the value to fit the column",
		Code:    "DB004",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB005",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB008",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// HTTPStatus returns the response status for err. Unknown errors are 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.status
		}
	}
	return http.StatusInternalServerError
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
