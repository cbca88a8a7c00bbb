package common_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

var _ = Describe("error mapping", func() {
	DescribeTable("maps the taxonomy onto transport codes",
		func(err error, code codes.Code, httpStatus int) {
			Expect(status.Code(common.GRPCError(err))).To(Equal(code))
			Expect(common.HTTPStatus(err)).To(Equal(httpStatus))
		},
		Entry("validation", common.NewValidationError("owner_id is required"), codes.InvalidArgument, http.StatusBadRequest),
		Entry("unsupported format", fmt.Errorf("read: %w", common.ErrUnsupportedFormat), codes.InvalidArgument, http.StatusBadRequest),
		Entry("busy", common.ErrSystemBusy, codes.ResourceExhausted, http.StatusTooManyRequests),
		Entry("not found", fmt.Errorf("document x: %w", common.ErrNotFound), codes.NotFound, http.StatusNotFound),
		Entry("lease held", common.ErrLeaseHeld, codes.FailedPrecondition, http.StatusConflict),
		Entry("invalid transition", common.ErrInvalidTransition, codes.FailedPrecondition, http.StatusConflict),
		Entry("conflict", common.ErrConflict, codes.FailedPrecondition, http.StatusConflict),
		Entry("deadline", context.DeadlineExceeded, codes.DeadlineExceeded, http.StatusGatewayTimeout),
		Entry("anything else", errors.New("disk on fire"), codes.Internal, http.StatusInternalServerError),
	)

	It("hides the cause of internal errors from gRPC callers", func() {
		Expect(status.Convert(common.GRPCError(errors.New("pq: password authentication failed"))).Message()).To(Equal("internal error"))
	})

	It("passes existing gRPC statuses through", func() {
		err := status.Error(codes.Unauthenticated, "who are you")
		Expect(common.GRPCError(err)).To(Equal(err))
		Expect(common.GRPCError(nil)).To(BeNil())
	})

	It("classifies retryable failures", func() {
		Expect(common.IsTransient(fmt.Errorf("call: %w", common.ErrEngineTimeout))).To(BeTrue())
		Expect(common.IsTransient(common.ErrEngineUnavailable)).To(BeTrue())
		Expect(common.IsPermanent(common.ErrUnsupportedFormat)).To(BeTrue())
		Expect(common.IsPermanent(common.NewValidationError("bad"))).To(BeTrue())
		Expect(common.IsTransient(common.ErrUnsupportedFormat)).To(BeFalse())
	})
})

var _ = Describe("Validator", func() {
	It("collects every failing field", func() {
		v := common.NewValidator().
			Field("reviewer", "", common.Required).
			Field("currency", "pln", common.CurrencyCode).
			Field("status", "open", common.OneOf("open", "closed")).
			Field("quality_rating", 7, common.Between(1, 5)).
			Field("filename", "fv.pdf", common.MaxLen(3))
		err := common.ValidationErrorFrom(v)
		Expect(err).To(MatchError(common.ErrValidation))
		Expect(err.Error()).To(ContainSubstring("reviewer is required"))
		Expect(err.Error()).To(ContainSubstring("currency must be 3 uppercase letters"))
		Expect(err.Error()).To(ContainSubstring("quality_rating must be between 1 and 5"))
		Expect(err.Error()).To(ContainSubstring("filename must be at most 3 characters"))
		Expect(err.Error()).NotTo(ContainSubstring("status"))
	})

	It("passes clean input", func() {
		v := common.NewValidator().Field("currency", "PLN", common.Required, common.CurrencyCode)
		Expect(common.ValidationErrorFrom(v)).To(Succeed())
	})
})
