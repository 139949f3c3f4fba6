package telegram

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Kind buckets a platform failure for retry and escalation policy.
type Kind string

const (
	KindChatNotFound    Kind = "CHAT_NOT_FOUND"
	KindBotKicked       Kind = "BOT_KICKED"
	KindBotBlocked      Kind = "BOT_BLOCKED"
	KindForbidden       Kind = "FORBIDDEN"
	KindUserDeactivated Kind = "USER_DEACTIVATED"
	KindNetworkError    Kind = "NETWORK_ERROR"
	KindServerError     Kind = "SERVER_ERROR"
	KindUnknown         Kind = "UNKNOWN"
)

// Critical reports whether the failure means the bot permanently lost the
// chat: the group must be dropped and admins told.
func (k Kind) Critical() bool {
	switch k {
	case KindChatNotFound, KindBotKicked, KindBotBlocked, KindForbidden, KindUserDeactivated:
		return true
	}
	return false
}

// Transient reports whether an immediate retry is worthwhile.
func (k Kind) Transient() bool {
	return k == KindNetworkError || k == KindServerError
}

// Human is the operator-facing reason line.
func (k Kind) Human() string {
	switch k {
	case KindChatNotFound:
		return "chat not found"
	case KindBotKicked:
		return "bot was kicked from the chat"
	case KindBotBlocked:
		return "bot was blocked"
	case KindForbidden:
		return "insufficient rights in the chat"
	case KindUserDeactivated:
		return "user is deactivated"
	case KindNetworkError:
		return "network error"
	case KindServerError:
		return "Telegram server error"
	default:
		return "unknown error"
	}
}

var serverCodeRe = regexp.MustCompile(`\b50[0-5]\b`)

// Classify buckets an error by adapter-assigned name and message text. Rules
// are ordered: specific chat-loss reasons win over the generic forbidden.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	name := ErrorName(err)
	msg := err.Error()
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	lower := strings.ToLower(msg)

	switch {
	case name == errNameNetwork || containsAny(lower, "request timeout", "timeout error", "network error", "connection"):
		return KindNetworkError
	case name == errNameServer || containsAny(lower, "bad gateway", "server error") || serverCodeRe.MatchString(msg):
		return KindServerError
	case name == "ChatNotFound" || strings.Contains(lower, "chat not found"):
		return KindChatNotFound
	case strings.Contains(lower, "bot was kicked"):
		return KindBotKicked
	case strings.Contains(lower, "bot was blocked") || strings.Contains(lower, "bot is blocked"):
		return KindBotBlocked
	case strings.Contains(lower, "user is deactivated") || strings.Contains(lower, "user_deactivated"):
		return KindUserDeactivated
	case name == errNameForbidden && strings.Contains(lower, "forbidden"):
		return KindForbidden
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
