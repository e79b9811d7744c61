package transcriber

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrDeadlineExceeded = errors.New("recognition deadline exceeded")
	ErrCanceled         = errors.New("recognition stream canceled")
	ErrTransport        = errors.New("recognition transport failure")
	// ErrStreamClosed is returned by Write once the stream has ended; the
	// cause is reported to the receiver through OnClose.
	ErrStreamClosed = errors.New("recognition stream closed")
)

// ClassifyError maps transport failures onto the package sentinels while
// keeping the original error in the chain.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, ErrCanceled) || errors.Is(err, ErrTransport) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", ErrDeadlineExceeded, st.Message())
		case codes.Canceled:
			return fmt.Errorf("%w: %s", ErrCanceled, st.Message())
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
