package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "scope:action" or "scope:action:payload".
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// CheckData rejects callback data Telegram would refuse.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}

// ParseData splits data built by Data. The payload may contain colons.
func ParseData(data string) (scope, action, payload string, ok bool) {
	scope, rest, found := strings.Cut(strings.TrimSpace(data), ":")
	if !found || scope == "" {
		return "", "", "", false
	}
	action, payload, _ = strings.Cut(rest, ":")
	if action == "" {
		return "", "", "", false
	}
	return scope, action, payload, true
}
