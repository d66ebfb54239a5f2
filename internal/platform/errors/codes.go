// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Participant errors
	CodeUnknownParticipant  Code = "UNKNOWN_PARTICIPANT"
	CodeParticipantInactive Code = "PARTICIPANT_INACTIVE"
	CodeEmptyParticipantSet Code = "EMPTY_PARTICIPANT_SET"
	CodeParticipantSetSmall Code = "PARTICIPANT_SET_TOO_SMALL"
	CodeDirectPairRequired  Code = "DIRECT_PAIR_REQUIRED"
	CodeNotParticipant      Code = "NOT_PARTICIPANT"
	CodeForbidden           Code = "FORBIDDEN"

	// Conversation errors
	CodeConversationNotFound    Code = "CONVERSATION_NOT_FOUND"
	CodeConversationIDRequired  Code = "CONVERSATION_ID_REQUIRED"
	CodeConversationKindInvalid Code = "CONVERSATION_KIND_INVALID"

	// Message errors
	CodeEmptyContent    Code = "EMPTY_CONTENT"
	CodeSenderRequired  Code = "SENDER_REQUIRED"
	CodeInvalidSequence Code = "INVALID_SEQUENCE"

	// Transport errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Query errors
	CodeInvalidPageSize   Code = "INVALID_PAGE_SIZE"
	CodeInvalidPageToken  Code = "INVALID_PAGE_TOKEN"
	CodeInvalidFilter     Code = "INVALID_FILTER"
	CodeRequesterRequired Code = "REQUESTER_REQUIRED"

	// Delivery errors
	CodeDeliveryFailed Code = "DELIVERY_FAILED"

	// Infrastructure errors
	CodeTimeout  Code = "TIMEOUT"
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeEmptyParticipantSet,
		CodeParticipantSetSmall,
		CodeDirectPairRequired,
		CodeConversationIDRequired,
		CodeConversationKindInvalid,
		CodeEmptyContent,
		CodeSenderRequired,
		CodeInvalidSequence,
		CodeInvalidPageSize,
		CodeInvalidPageToken,
		CodeInvalidFilter,
		CodeRequesterRequired,
		CodeInvalidArgument:
		return codes.InvalidArgument

	case CodeUnauthenticated:
		return codes.Unauthenticated

	// FailedPrecondition - state doesn't allow operation
	case CodeUnknownParticipant,
		CodeParticipantInactive:
		return codes.FailedPrecondition

	// PermissionDenied - actor cannot touch the resource
	case CodeNotParticipant,
		CodeForbidden:
		return codes.PermissionDenied

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeConversationNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeConflict:
		return codes.AlreadyExists

	case CodeTimeout:
		return codes.DeadlineExceeded

	case CodeDeliveryFailed:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
