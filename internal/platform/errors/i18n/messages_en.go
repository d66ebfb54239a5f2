package i18n

var messagesEnUS = map[string]string{
	"UNKNOWN":                   "Something went wrong. Please try again.",
	"UNKNOWN_PARTICIPANT":       "User {{.user_id}} does not exist.",
	"PARTICIPANT_INACTIVE":      "User {{.user_id}} is deactivated and cannot join new conversations.",
	"EMPTY_PARTICIPANT_SET":     "A conversation needs at least two participants.",
	"PARTICIPANT_SET_TOO_SMALL": "A conversation needs at least two participants.",
	"DIRECT_PAIR_REQUIRED":      "A direct conversation needs exactly two participants.",
	"NOT_PARTICIPANT":           "You are not a participant in this conversation.",
	"FORBIDDEN":                 "You are not allowed to access this conversation.",
	"CONVERSATION_NOT_FOUND":    "Conversation not found.",
	"CONVERSATION_ID_REQUIRED":  "A conversation id is required.",
	"CONVERSATION_KIND_INVALID": "Unknown conversation kind {{.kind}}.",
	"EMPTY_CONTENT":             "Messages cannot be empty.",
	"SENDER_REQUIRED":           "A sender id is required.",
	"INVALID_SEQUENCE":          "Sequence {{.seq}} is past the end of the conversation.",
	"INVALID_PAGE_SIZE":         "Page size must be between 1 and {{.max}}.",
	"INVALID_PAGE_TOKEN":        "The page token is invalid or expired.",
	"INVALID_FILTER":            "The filter expression is invalid.",
	"INVALID_ARGUMENT":          "The request is malformed.",
	"UNAUTHENTICATED":           "A valid stream grant is required.",
	"REQUESTER_REQUIRED":        "A requester id is required.",
	"TIMEOUT":                   "The operation timed out. It is safe to retry.",
	"DELIVERY_FAILED":           "Message delivery is delayed.",
	"NOT_FOUND":                 "Not found.",
	"CONFLICT":                  "The record already exists.",
}
