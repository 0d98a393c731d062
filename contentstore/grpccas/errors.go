package grpccas

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ubec.eco/reciprocity/contentstore"
)

// mapRPC translates a gRPC status error back into the contentstore
// sentinels so callers can keep using errors.Is across the wire boundary.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return contentstore.ErrNotFound
	case codes.InvalidArgument:
		return contentstore.ErrInvalidCID
	case codes.DataLoss:
		return contentstore.ErrCIDMismatch
	case codes.FailedPrecondition:
		return contentstore.ErrImmutable
	case codes.Unavailable, codes.DeadlineExceeded:
		return contentstore.ErrUnavailable
	}
	return err
}
