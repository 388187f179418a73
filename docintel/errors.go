package docintel

import "errors"

var (
	// ErrUnsupportedFormat is returned when a document's file extension is
	// not accepted by the parse service.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyHandle is returned when Poll is called with an empty handle.
	ErrEmptyHandle = errors.New("empty job handle")

	// ErrParseFailed is returned when the remote job reaches a failed state.
	ErrParseFailed = errors.New("remote parse failed")
)
