// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Webhook request headers.
const (
	HeaderSignature = "X-Chatwatch-Signature"
	HeaderEvent     = "X-Chatwatch-Event"

	signaturePrefix = "sha256="
)

// Sign returns the signature header value for body. With a secret it is an
// HMAC-SHA256; without one it is the plain SHA-256 content hash.
func Sign(body []byte, secret string) string {
	if secret == "" {
		sum := sha256.Sum256(body)
		return signaturePrefix + hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in constant time.
func Verify(body []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

func newSignedRequest(ctx context.Context, url, event string, body []byte, secret string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chatwatch-webhook/1")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderSignature, Sign(body, secret))
	return req, nil
}

// drainAndClose lets the transport reuse the connection.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
