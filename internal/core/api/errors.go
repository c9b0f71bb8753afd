package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mtgjson/mtgjson-go/internal/types"
)

// toStatus maps the SDK error taxonomy onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, types.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, types.ErrInvalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrNetwork):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
