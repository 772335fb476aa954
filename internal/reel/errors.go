package reel

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, caller-facing classification of a render failure.
type Code string

const (
	CodeValidationFailed   Code = "validation_failed"
	CodeUnsupportedType    Code = "unsupported_type"
	CodeMusicMustBeAudio   Code = "music_must_be_audio"
	CodeSegmentBuildFailed Code = "segment_build_failed"
	CodeAssemblyFailed     Code = "assembly_failed"
	CodePersistFailed      Code = "persist_failed"
	CodeInternal           Code = "internal_error"
)

var userMessages = map[Code]string{
	CodeValidationFailed:   "the request was rejected",
	CodeUnsupportedType:    "one of the media items has an unsupported type",
	CodeMusicMustBeAudio:   "background music must be an audio-only file",
	CodeSegmentBuildFailed: "a media item could not be rendered",
	CodeAssemblyFailed:     "the final video could not be assembled",
	CodePersistFailed:      "the video was rendered but could not be recorded",
	CodeInternal:           "internal error",
}

// Error is a classified render error. Detail carries the bounded tool
// diagnostic and is only ever logged.
type Error struct {
	Code    Code
	Op      string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An already classified error keeps its code.
func Wrap(err error, code Code, op, message string) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// WithDetail attaches a diagnostic and returns e.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// GetCode returns the code of the first *Error in the chain, or CodeInternal.
func GetCode(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// Detail returns the tool diagnostic attached anywhere in the chain.
func Detail(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Detail
	}
	return ""
}

// UserMessage is the short text exposed at the status boundary.
// Validation errors keep their message since it tells the caller what to fix.
func UserMessage(err error) string {
	var re *Error
	if errors.As(err, &re) {
		if re.Code == CodeValidationFailed || re.Code == CodeUnsupportedType {
			if re.Message != "" {
				return re.Message
			}
		}
		if msg, ok := userMessages[re.Code]; ok {
			return msg
		}
	}
	return userMessages[CodeInternal]
}

// HTTPStatus maps a code to the status used by the intake endpoint.
func HTTPStatus(err error) int {
	var re *Error
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	switch re.Code {
	case CodeValidationFailed, CodeUnsupportedType, CodeMusicMustBeAudio:
		if errors.Is(re.Err, ErrTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
