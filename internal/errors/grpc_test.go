package errors_test

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

func (s *ErrorsTestSuite) TestToGRPCError() {
	s.Nil(errors.ToGRPCError(nil))

	st, ok := status.FromError(errors.ToGRPCError(errors.FailedPrecondition("encounter has not started")))
	s.Require().True(ok)
	s.Equal(codes.FailedPrecondition, st.Code())
	s.Equal("encounter has not started", st.Message())

	wrapped := errors.Wrap(errors.NotFound("entry not found"), "failed to load entry")
	st, _ = status.FromError(errors.ToGRPCError(wrapped))
	s.Equal(codes.NotFound, st.Code())

	st, _ = status.FromError(errors.ToGRPCError(fmt.Errorf("boom")))
	s.Equal(codes.Internal, st.Code())

	original := status.Error(codes.Aborted, "already a status")
	s.Equal(original, errors.ToGRPCError(original))
}
