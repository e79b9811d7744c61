package session

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

const (
	stopReasonServerClosed = "server_closed"
	stopReasonCancelled    = "cancelled"
	stopReasonDeadline     = "deadline_exceeded"
	stopReasonTransport    = "transport_error"
	stopReasonOutput       = "output_error"
	stopReasonOrphaned     = "orphaned"
	stopReasonUnknownError = "unknown_error"

	messageAttachmentFormat = ":page_facing_up: **Transcript of `%s`** (%s)"
)

func stopStatus(err error, cancelled bool) (repository.SessionStatus, string) {
	switch {
	case err == nil && cancelled:
		return repository.SessionStatusCancelled, stopReasonCancelled
	case err == nil:
		return repository.SessionStatusCompleted, stopReasonServerClosed
	case errors.Is(err, transcriber.ErrDeadlineExceeded):
		return repository.SessionStatusFailed, stopReasonDeadline
	case errors.Is(err, errOutput):
		return repository.SessionStatusFailed, stopReasonOutput
	case errors.Is(err, transcriber.ErrTransport), errors.Is(err, transcriber.ErrCanceled):
		return repository.SessionStatusFailed, stopReasonTransport
	default:
		return repository.SessionStatusFailed, stopReasonUnknownError
	}
}

func stopReasonDetail(reason string) string {
	switch reason {
	case stopReasonServerClosed:
		return "recognition finished"
	case stopReasonCancelled:
		return "cancelled before the service finished"
	case stopReasonDeadline:
		return "the recognition deadline was exceeded"
	case stopReasonTransport:
		return "the connection to the recognition service failed"
	case stopReasonOutput:
		return "writing the output files failed"
	default:
		return "an unknown error occurred"
	}
}

func attachmentMessage(inputPath, reason string) string {
	return fmt.Sprintf(messageAttachmentFormat, filepath.Base(inputPath), stopReasonDetail(reason))
}
