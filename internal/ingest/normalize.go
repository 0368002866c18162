// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/transport"
)

// SelfSender is the sender recorded for outgoing direct messages.
const SelfSender = "me"

// maxClockSkew bounds how far in the future a bridge timestamp may be.
const maxClockSkew = 5 * time.Minute

// ErrValidation marks messages dropped for missing protocol fields.
var ErrValidation = errors.New("invalid message")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

// Normalize converts a bridge message. Timestamps further than maxClockSkew
// past now are clamped to now.
func Normalize(raw transport.RawMessage, now time.Time) (*models.NormalizedMessage, error) {
	switch {
	case raw.Key.ID == "":
		return nil, missing("key.id")
	case raw.Key.RemoteJID == "":
		return nil, missing("key.remoteJid")
	case raw.MessageTimestamp <= 0:
		return nil, missing("messageTimestamp")
	case raw.Message == nil:
		return nil, missing("message")
	}

	msg := &models.NormalizedMessage{
		ID:         raw.Key.ID,
		ChannelID:  raw.Key.RemoteJID,
		SenderName: raw.PushName,
		Timestamp:  time.Unix(raw.MessageTimestamp, 0).UTC(),
	}
	if limit := now.Add(maxClockSkew); msg.Timestamp.After(limit) {
		msg.Timestamp = now.UTC()
	}

	group := models.IsGroupJID(raw.Key.RemoteJID)
	switch {
	case raw.Key.FromMe:
		msg.Direction = models.DirectionOutgoing
	case group:
		msg.Direction = models.DirectionIncomingGroup
	default:
		msg.Direction = models.DirectionIncomingDirect
	}

	switch {
	case group && raw.Key.Participant != "":
		msg.Sender = raw.Key.Participant
	case group && !raw.Key.FromMe:
		return nil, missing("key.participant")
	case raw.Key.FromMe:
		msg.Sender = SelfSender
	default:
		msg.Sender = raw.Key.RemoteJID
	}

	if err := fillBody(msg, raw.Message); err != nil {
		return nil, err
	}
	return msg, nil
}

func fillBody(msg *models.NormalizedMessage, body *transport.MessageBody) error {
	switch {
	case body.Conversation != "":
		msg.MediaKind = models.MediaText
		msg.Content = body.Conversation
	case body.ExtendedTextMessage != nil:
		msg.MediaKind = models.MediaText
		msg.Content = body.ExtendedTextMessage.Text
	case body.ImageMessage != nil:
		m := body.ImageMessage
		msg.MediaKind = models.MediaImage
		msg.Content = m.Caption
		msg.Media = &models.MediaMetadata{Kind: models.MediaImage, Image: &models.ImageMeta{
			MimeType: m.Mimetype, Width: m.Width, Height: m.Height, Size: m.FileLength,
		}}
	case body.VideoMessage != nil:
		m := body.VideoMessage
		msg.MediaKind = models.MediaVideo
		msg.Content = m.Caption
		msg.Media = &models.MediaMetadata{Kind: models.MediaVideo, Video: &models.VideoMeta{
			MimeType: m.Mimetype, Seconds: m.Seconds, Size: m.FileLength,
		}}
	case body.AudioMessage != nil:
		m := body.AudioMessage
		msg.MediaKind = models.MediaAudio
		msg.Media = &models.MediaMetadata{Kind: models.MediaAudio, Audio: &models.AudioMeta{
			MimeType: m.Mimetype, Seconds: m.Seconds, Size: m.FileLength,
		}}
	case body.DocumentMessage != nil:
		m := body.DocumentMessage
		msg.MediaKind = models.MediaDocument
		msg.Content = m.Caption
		msg.Media = &models.MediaMetadata{Kind: models.MediaDocument, Document: &models.DocumentMeta{
			MimeType: m.Mimetype, FileName: m.FileName, Size: m.FileLength,
		}}
	case body.StickerMessage != nil:
		msg.MediaKind = models.MediaSticker
		msg.Media = &models.MediaMetadata{Kind: models.MediaSticker}
	case body.LocationMessage != nil:
		m := body.LocationMessage
		msg.MediaKind = models.MediaLocation
		msg.Content = m.Name
		msg.Media = &models.MediaMetadata{Kind: models.MediaLocation, Location: &models.LocationMeta{
			Latitude: m.DegreesLatitude, Longitude: m.DegreesLongitude, Name: m.Name,
		}}
	case body.ContactMessage != nil:
		msg.MediaKind = models.MediaContact
		msg.Content = body.ContactMessage.DisplayName
		msg.Media = &models.MediaMetadata{Kind: models.MediaContact, Contact: &models.ContactMeta{
			DisplayName: body.ContactMessage.DisplayName,
		}}
	default:
		return &ValidationError{Field: "message", Reason: "has no supported content"}
	}
	return nil
}
