package convert

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/keyhandoff/internal/errs"
)

// ErrorDomain is the ErrorInfo domain attached to mapped status errors.
const ErrorDomain = "keyhandoff"

var statusTable = []struct {
	err    error
	code   codes.Code
	reason string
}{
	{errs.ErrInvalidArgument, codes.InvalidArgument, "INVALID_ARGUMENT"},
	{errs.ErrInvalidCode, codes.InvalidArgument, "INVALID_CODE"},
	{errs.ErrUnauthorized, codes.Unauthenticated, "UNAUTHORIZED"},
	{errs.ErrRateLimited, codes.ResourceExhausted, "RATE_LIMITED"},
	{errs.ErrAlreadyExists, codes.AlreadyExists, "ALREADY_EXISTS"},
	{errs.ErrNotFound, codes.NotFound, "NOT_FOUND"},
	{errs.ErrNotConfirmed, codes.FailedPrecondition, "NOT_CONFIRMED"},
	{errs.ErrVersionConflict, codes.FailedPrecondition, "ALREADY_CONFIRMED"},
}

// ToStatus maps a service error to a gRPC status error carrying an ErrorInfo reason.
// Unknown errors become Internal without leaking details.
func ToStatus(err error, op string) error {
	if err == nil {
		return nil
	}
	for _, e := range statusTable {
		if !errors.Is(err, e.err) {
			continue
		}
		st := status.New(e.code, e.err.Error())
		withDetails, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: e.reason, Domain: ErrorDomain})
		if derr != nil {
			return st.Err()
		}
		return withDetails.Err()
	}
	return status.Errorf(codes.Internal, "%s failed", op)
}

func reasonOf(st *status.Status) string {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info.GetReason()
		}
	}
	return ""
}

// FromStatus maps a gRPC status error back to the matching sentinel.
// The ErrorInfo reason wins; without it the code alone decides.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if reason := reasonOf(st); reason != "" {
		for _, e := range statusTable {
			if e.reason == reason {
				return e.err
			}
		}
	}
	for _, e := range statusTable {
		if st.Code() == e.code {
			return fmt.Errorf("%w: %s", e.err, st.Message())
		}
	}
	return err
}
