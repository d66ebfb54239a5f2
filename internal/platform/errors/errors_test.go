package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
)

func TestCodeOfUnwrapsChain(t *testing.T) {
	t.Parallel()

	base := New(CodeConversationNotFound, "conversation not found")
	wrapped := fmt.Errorf("lookup: %w", base)
	if got := CodeOf(wrapped); got != CodeConversationNotFound {
		t.Fatalf("expected conversation not found code, got %s", got)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected unknown code for plain error, got %s", got)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeTimeout, "deadline", stderrors.New("io timeout"))
	if !stderrors.Is(err, New(CodeTimeout, "other message")) {
		t.Fatal("expected code match")
	}
	if stderrors.Is(err, New(CodeConflict, "conflict")) {
		t.Fatal("expected code mismatch")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeEmptyContent, codes.InvalidArgument},
		{CodeParticipantInactive, codes.FailedPrecondition},
		{CodeNotParticipant, codes.PermissionDenied},
		{CodeConversationNotFound, codes.NotFound},
		{CodeConflict, codes.AlreadyExists},
		{CodeTimeout, codes.DeadlineExceeded},
		{CodeUnauthenticated, codes.Unauthenticated},
		{CodeDeliveryFailed, codes.Unavailable},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("code %s: expected %s, got %s", tc.code, tc.want, got)
		}
	}
}

func TestToStatusCarriesDetails(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeUnknownParticipant, "participant does not exist", map[string]string{"user_id": "user-1"})
	st := err.ToStatus("pt-BR", "O usuário user-1 não existe.")
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("expected failed precondition, got %s", st.Code())
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.Reason != string(CodeUnknownParticipant) || info.Metadata["user_id"] != "user-1" {
		t.Fatalf("unexpected error info: %+v", info)
	}
	if localized == nil || localized.Locale != "pt-BR" {
		t.Fatalf("unexpected localized message: %+v", localized)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want int
	}{
		{CodeEmptyContent, http.StatusBadRequest},
		{CodeParticipantInactive, http.StatusUnprocessableEntity},
		{CodeForbidden, http.StatusForbidden},
		{CodeConversationNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeDeliveryFailed, http.StatusServiceUnavailable},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := New(tc.code, "x").HTTPStatus(); got != tc.want {
			t.Fatalf("code %s: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}
