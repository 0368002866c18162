// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package models holds the data types shared across the ingestion pipeline,
// the store and the dashboard API.
package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Direction tells who sent a message relative to the monitored account.
type Direction string

const (
	DirectionIncomingDirect Direction = "incoming_direct"
	DirectionIncomingGroup  Direction = "incoming_group"
	DirectionOutgoing       Direction = "outgoing"
)

// Inbound reports whether the message was received rather than sent.
func (d Direction) Inbound() bool {
	return d == DirectionIncomingDirect || d == DirectionIncomingGroup
}

// MediaKind is the message payload type.
type MediaKind string

const (
	MediaText     MediaKind = "text"
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
	MediaLocation MediaKind = "location"
	MediaContact  MediaKind = "contact"
)

// IsText reports whether k is a plain text payload. An unset kind counts as
// text.
func (k MediaKind) IsText() bool {
	return k == "" || k == MediaText
}

// GroupSuffix marks group channel identifiers.
const GroupSuffix = "@g.us"

// IsGroupJID reports whether jid identifies a group channel.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, GroupSuffix)
}

// ImageMeta describes an image payload.
type ImageMeta struct {
	MimeType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// VideoMeta describes a video payload.
type VideoMeta struct {
	MimeType string `json:"mime_type,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// AudioMeta describes an audio or voice note attachment.
type AudioMeta struct {
	MimeType string `json:"mime_type,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// DocumentMeta describes a document payload.
type DocumentMeta struct {
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// LocationMeta describes a shared location.
type LocationMeta struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// ContactMeta describes a shared contact card.
type ContactMeta struct {
	DisplayName string `json:"display_name"`
}

// MediaMetadata is a tagged variant: only the pointer matching Kind is set.
// Text and sticker messages carry no extra metadata.
type MediaMetadata struct {
	Kind     MediaKind     `json:"kind"`
	Image    *ImageMeta    `json:"image,omitempty"`
	Video    *VideoMeta    `json:"video,omitempty"`
	Audio    *AudioMeta    `json:"audio,omitempty"`
	Document *DocumentMeta `json:"document,omitempty"`
	Location *LocationMeta `json:"location,omitempty"`
	Contact  *ContactMeta  `json:"contact,omitempty"`
}

// NormalizedMessage is a validated inbound or outbound chat message.
// It is immutable after normalization except for the risk score, which is
// set once through SetRiskScore.
type NormalizedMessage struct {
	ID         string         `json:"id"`
	Sender     string         `json:"sender"`
	SenderName string         `json:"sender_name,omitempty"`
	ChannelID  string         `json:"channel_id"`
	Direction  Direction      `json:"direction"`
	Content    string         `json:"content"`
	MediaKind  MediaKind      `json:"media_kind"`
	Media      *MediaMetadata `json:"media,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	RiskScore  float64        `json:"risk_score"`

	riskSet bool
}

// MarshalJSON adds timestamp_ms (epoch milliseconds) next to the RFC 3339
// timestamp so payloads line up with the envelope's own timestamp.
func (m NormalizedMessage) MarshalJSON() ([]byte, error) {
	type wire NormalizedMessage
	return json.Marshal(struct {
		wire
		TimestampMs int64 `json:"timestamp_ms"`
	}{wire(m), m.Timestamp.UnixMilli()})
}

// SetRiskScore records the analyzer's score, clamped to [0,1].
// Only the first call has an effect.
func (m *NormalizedMessage) SetRiskScore(v float64) {
	if m.riskSet {
		return
	}
	m.riskSet = true
	m.RiskScore = Clamp01(v)
}

// RiskScored reports whether SetRiskScore has been called.
func (m *NormalizedMessage) RiskScored() bool {
	return m.riskSet
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ChannelSubscription marks whether a channel's messages are processed.
type ChannelSubscription struct {
	ChannelID string    `json:"channel_id"`
	Name      string    `json:"name,omitempty"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParticipantsUpdate reports group membership changes from the transport.
type ParticipantsUpdate struct {
	ChannelID    string   `json:"channel_id"`
	Participants []string `json:"participants"`
	Action       string   `json:"action"` // add, remove, promote, demote
}
