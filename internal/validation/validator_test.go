// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Queue struct {
		BatchSize int `koanf:"batch_size" validate:"min=1,max=1000"`
	} `koanf:"queue"`
	Level   string `koanf:"level" validate:"oneof=debug info warn error"`
	Channel string `json:"channel" validate:"omitempty,jid"`
}

func TestValidateStruct_Valid(t *testing.T) {
	s := sample{Level: "info", Channel: "120363025246125486@g.us"}
	s.Queue.BatchSize = 50
	if err := ValidateStruct(s); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStruct_Errors(t *testing.T) {
	s := sample{Level: "loud", Channel: "not a jid"}

	err := ValidateStruct(s)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(verr.Fields) != 3 {
		t.Fatalf("expected 3 field errors, got %d: %v", len(verr.Fields), verr)
	}

	want := map[string]string{
		"queue.batch_size": "queue.batch_size must be at least 1",
		"level":            "level must be one of: debug info warn error",
		"channel":          "channel must be a chat identifier (user@server)",
	}
	for _, f := range verr.Fields {
		msg, ok := want[f.Field]
		if !ok {
			t.Errorf("unexpected field %q", f.Field)
			continue
		}
		if f.Message != msg {
			t.Errorf("%s: message = %q, want %q", f.Field, f.Message, msg)
		}
	}
	if !strings.Contains(verr.Error(), "; ") {
		t.Errorf("joined error should separate messages: %q", verr.Error())
	}
}

func TestIsJID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"4915123456789@s.whatsapp.net", true},
		{"120363025246125486@g.us", true},
		{"status@broadcast", true},
		{"", false},
		{"no-at-sign", false},
		{"@g.us", false},
	}
	for _, tt := range tests {
		if got := IsJID(tt.in); got != tt.want {
			t.Errorf("IsJID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
