package repositories

import (
	"context"
	stderrors "errors"

	"github.com/anonto42/nearme/backend/pkg/errs"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classify tags a store failure with an errs.Code. Errors that already carry
// a code pass through unchanged.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var ce *errs.CodeError
	if stderrors.As(err, &ce) {
		return err
	}
	return errs.Wrap(codeForStoreError(err), errors.WithStack(err), op)
}

func codeForStoreError(err error) errs.Code {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		return errs.CodeTimeout
	case stderrors.Is(err, mongo.ErrNoDocuments):
		return errs.CodeNotFound
	case mongo.IsDuplicateKeyError(err):
		return errs.CodeRequestExists
	case mongo.IsTimeout(err):
		return errs.CodeTimeout
	case mongo.IsNetworkError(err):
		return errs.CodeOffline
	}

	switch status.Code(err) {
	case codes.Unavailable:
		return errs.CodeOffline
	case codes.DeadlineExceeded:
		return errs.CodeTimeout
	case codes.PermissionDenied, codes.Unauthenticated:
		return errs.CodePermissionDenied
	case codes.NotFound:
		return errs.CodeNotFound
	case codes.Internal, codes.ResourceExhausted, codes.Aborted, codes.DataLoss:
		return errs.CodeServerError
	case codes.InvalidArgument, codes.FailedPrecondition:
		return errs.CodeInvalidInput
	}
	return errs.CodeUnknown
}

func notFound(kind, id string) error {
	return errs.New(errs.CodeNotFound, kind+" "+id)
}
