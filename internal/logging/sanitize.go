// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package logging

import "strings"

// SanitizeJID masks the user part of a chat identifier so phone numbers do
// not end up in logs verbatim. Only the last four characters of the user part
// are kept; the server part (after '@') is preserved.
//
//	SanitizeJID("4915123456789@s.whatsapp.net") == "*********6789@s.whatsapp.net"
func SanitizeJID(jid string) string {
	user, server, found := strings.Cut(jid, "@")
	if len(user) > 4 {
		user = strings.Repeat("*", len(user)-4) + user[len(user)-4:]
	}
	if !found {
		return user
	}
	return user + "@" + server
}

// SanitizeSecret reports only whether a secret is set and its length bucket.
func SanitizeSecret(secret string) string {
	switch {
	case secret == "":
		return "[empty]"
	case len(secret) < 16:
		return "[set:short]"
	default:
		return "[set]"
	}
}
