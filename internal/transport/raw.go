// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package transport

// MessageKey addresses a message on the bridge.
type MessageKey struct {
	ID          string `json:"id"`
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	Participant string `json:"participant,omitempty"`
}

// RawMessage mirrors the bridge's message JSON.
type RawMessage struct {
	Key              MessageKey   `json:"key"`
	PushName         string       `json:"pushName,omitempty"`
	MessageTimestamp int64        `json:"messageTimestamp"` // unix seconds
	Message          *MessageBody `json:"message,omitempty"`
}

// MessageBody holds exactly one populated variant.
type MessageBody struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaMessage        `json:"imageMessage,omitempty"`
	VideoMessage        *MediaMessage        `json:"videoMessage,omitempty"`
	AudioMessage        *MediaMessage        `json:"audioMessage,omitempty"`
	DocumentMessage     *MediaMessage        `json:"documentMessage,omitempty"`
	StickerMessage      *MediaMessage        `json:"stickerMessage,omitempty"`
	LocationMessage     *LocationMessage     `json:"locationMessage,omitempty"`
	ContactMessage      *ContactMessage      `json:"contactMessage,omitempty"`
}

// ExtendedTextMessage is text with link previews or quotes.
type ExtendedTextMessage struct {
	Text string `json:"text"`
}

// MediaMessage covers image, video, audio, document and sticker payloads.
type MediaMessage struct {
	Caption    string `json:"caption,omitempty"`
	Mimetype   string `json:"mimetype,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileLength int64  `json:"fileLength,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Seconds    int    `json:"seconds,omitempty"`
}

// LocationMessage is a shared location.
type LocationMessage struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	Name             string  `json:"name,omitempty"`
}

// ContactMessage is a shared contact card.
type ContactMessage struct {
	DisplayName string `json:"displayName"`
}
