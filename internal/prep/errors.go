package prep

// errors.go maps run failures to user-facing messages with codes.
//
// Codes are grouped by the stage that failed. Support staff can quote the
// code back to find the stage; the original error is always logged.
//
//	CFG001  - exposure profile is unusable
//	SCH001  - exposure or keys table is malformed
//	DATA001 - exposure or keys table has no rows
//	JOIN001 - no exposure location matches a keys location
//	GUL001  - building GUL input items failed
//	WRT001  - an output table could not be written
//	ARC001  - the run could not be archived
//	ARC002  - run history was requested but archiving is off
//	REQ001  - the request is incomplete
//	RUN001  - too many runs in progress
//	RUN002  - the run was cancelled or timed out
//	ERR000  - anything else

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/gulprep/internal/exposure"
	"github.com/JonMunkholm/gulprep/internal/gul"
	"github.com/JonMunkholm/gulprep/internal/profile"
)

// UserMessage is the user-facing form of a run error.
type UserMessage struct {
	Message string `json:"message"` // what happened
	Action  string `json:"action"`  // what to do about it
	Code    string `json:"code"`    // support reference
	Status  int    `json:"-"`       // HTTP status
}

// ErrTooManyRuns is returned when every run slot stays busy for the whole
// wait time.
var ErrTooManyRuns = errors.New("too many concurrent runs, please try again later")

// ErrArchiveDisabled is returned for run history when no database is
// configured.
var ErrArchiveDisabled = errors.New("run archive is not configured")

// RequestError reports an incomplete or invalid run request.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string {
	return "invalid request: " + e.Reason
}

// ArchiveError reports a run whose files were written but whose archive
// copy failed.
type ArchiveError struct {
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive run: %v", e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

type errorMatcher struct {
	match func(error) bool
	msg   UserMessage
}

func as[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// errorMatchers are checked in order. More specific errors come before the
// errors that wrap them.
var errorMatchers = []errorMatcher{
	{
		match: as[*profile.ConfigurationError],
		msg: UserMessage{
			Message: "The exposure profile cannot be used",
			Action:  "Check that the profile defines TIV and coverage-level terms",
			Code:    "CFG001",
			Status:  http.StatusUnprocessableEntity,
		},
	},
	{
		match: as[*exposure.SchemaError],
		msg: UserMessage{
			Message: "An input table is malformed",
			Action:  "Fix the column or line named in the error and retry",
			Code:    "SCH001",
			Status:  http.StatusUnprocessableEntity,
		},
	},
	{
		match: as[*exposure.MissingDataError],
		msg: UserMessage{
			Message: "An input table has no data",
			Action:  "Check that the exposure and keys files are not empty",
			Code:    "DATA001",
			Status:  http.StatusUnprocessableEntity,
		},
	},
	{
		match: as[*gul.EmptyJoinError],
		msg: UserMessage{
			Message: "No exposure location matches any keys location",
			Action:  "Check that both files use the same location identifiers",
			Code:    "JOIN001",
			Status:  http.StatusUnprocessableEntity,
		},
	},
	{
		match: as[*gul.BuildError],
		msg: UserMessage{
			Message: "GUL input items could not be built",
			Action:  "Fix the input data named in the error and retry",
			Code:    "GUL001",
			Status:  http.StatusUnprocessableEntity,
		},
	},
	{
		match: as[*gul.WriteError],
		msg: UserMessage{
			Message: "An output table could not be written",
			Action:  "Check free space and permissions of the target directory",
			Code:    "WRT001",
			Status:  http.StatusInternalServerError,
		},
	},
	{
		match: as[*ArchiveError],
		msg: UserMessage{
			Message: "The run could not be archived",
			Action:  "Output files were written; check the database and retry",
			Code:    "ARC001",
			Status:  http.StatusBadGateway,
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrArchiveDisabled) },
		msg: UserMessage{
			Message: "Run history is not available",
			Action:  "Set DATABASE_URL to archive runs",
			Code:    "ARC002",
			Status:  http.StatusNotFound,
		},
	},
	{
		match: as[*RequestError],
		msg: UserMessage{
			Message: "The run request is incomplete",
			Action:  "Provide exposure_path and keys_path",
			Code:    "REQ001",
			Status:  http.StatusBadRequest,
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTooManyRuns) },
		msg: UserMessage{
			Message: "Too many preparation runs in progress",
			Action:  "Please wait a moment before trying again",
			Code:    "RUN001",
			Status:  http.StatusServiceUnavailable,
		},
	},
	{
		match: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		msg: UserMessage{
			Message: "The run was cancelled or timed out",
			Action:  "Please try again",
			Code:    "RUN002",
			Status:  http.StatusServiceUnavailable,
		},
	},
}

// defaultMessage is returned when no matcher applies (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts a run error to a user-facing message. Nil maps to the
// zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, m := range errorMatchers {
		if m.match(err) {
			return m.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
