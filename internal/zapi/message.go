package zapi

import (
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"
)

// PayloadKind identifies which content variant an inbound webhook
// message carries. Exactly one variant is populated per message; the
// kind is resolved once so downstream code can switch exhaustively
// instead of probing optional fields.
type PayloadKind int

const (
	KindNone PayloadKind = iota
	KindText
	KindImage
	KindVideo
	KindDocument
	KindAudio
	KindSticker
	KindLocation
	KindContact
)

// String returns the wire-style name of the payload kind.
func (k PayloadKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	case KindAudio:
		return "audio"
	case KindSticker:
		return "sticker"
	case KindLocation:
		return "location"
	case KindContact:
		return "contact"
	default:
		return "none"
	}
}

// TextPayload is a plain text message.
type TextPayload struct {
	Message string `json:"message"`
}

// MediaPayload covers image and video attachments, which share the
// caption-bearing shape.
type MediaPayload struct {
	Caption  string `json:"caption"`
	URL      string `json:"imageUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// DocumentPayload is a file attachment.
type DocumentPayload struct {
	FileName string `json:"fileName"`
	URL      string `json:"documentUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// AudioPayload is a voice note or audio file.
type AudioPayload struct {
	URL      string `json:"audioUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// StickerPayload is a sticker attachment.
type StickerPayload struct {
	URL string `json:"stickerUrl,omitempty"`
}

// LocationPayload is a shared location.
type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// ContactPayload is a shared contact card. Z-API delivers both a
// display name and, for full shares, the raw vCard text.
type ContactPayload struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vCard,omitempty"`
}

// WebhookMessage is the inbound message callback from Z-API.
type WebhookMessage struct {
	InstanceID string `json:"instanceId,omitempty"`
	MessageID  string `json:"messageId"`
	Phone      string `json:"phone"`
	FromMe     bool   `json:"fromMe"`
	Momment    int64  `json:"momment"` // Provider timestamp in milliseconds (sic, Z-API spelling)
	Status     string `json:"status,omitempty"`
	ChatName   string `json:"chatName,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	IsGroup    bool   `json:"isGroup"`
	Broadcast  bool   `json:"broadcast,omitempty"`
	Type       string `json:"type,omitempty"`

	Text     *TextPayload     `json:"text,omitempty"`
	Image    *MediaPayload    `json:"image,omitempty"`
	Video    *MediaPayload    `json:"video,omitempty"`
	Document *DocumentPayload `json:"document,omitempty"`
	Audio    *AudioPayload    `json:"audio,omitempty"`
	Sticker  *StickerPayload  `json:"sticker,omitempty"`
	Location *LocationPayload `json:"location,omitempty"`
	Contact  *ContactPayload  `json:"contact,omitempty"`
}

// Kind resolves which payload variant this message carries. Resolution
// order matches the text-extraction precedence so a malformed message
// carrying two variants behaves the same in both paths.
func (m *WebhookMessage) Kind() PayloadKind {
	switch {
	case m.Text != nil:
		return KindText
	case m.Image != nil:
		return KindImage
	case m.Video != nil:
		return KindVideo
	case m.Document != nil:
		return KindDocument
	case m.Audio != nil:
		return KindAudio
	case m.Sticker != nil:
		return KindSticker
	case m.Location != nil:
		return KindLocation
	case m.Contact != nil:
		return KindContact
	default:
		return KindNone
	}
}

// MessageText extracts the conversational text for this message. The
// second return is false when no text can be derived (KindNone), which
// callers treat as a rejection. Every payload kind is handled here;
// adding a new kind without a case is a compile-time hole this switch
// is meant to surface during review.
func (m *WebhookMessage) MessageText() (string, bool) {
	switch m.Kind() {
	case KindText:
		return m.Text.Message, m.Text.Message != ""
	case KindImage:
		if m.Image.Caption != "" {
			return m.Image.Caption, true
		}
		return "[Image]", true
	case KindVideo:
		if m.Video.Caption != "" {
			return m.Video.Caption, true
		}
		return "[Video]", true
	case KindDocument:
		name := m.Document.FileName
		if name == "" {
			name = "file"
		}
		return fmt.Sprintf("[Document: %s]", name), true
	case KindAudio:
		return "[Audio message]", true
	case KindSticker:
		return "[Sticker]", true
	case KindLocation:
		return fmt.Sprintf("[Location: %v, %v]", m.Location.Latitude, m.Location.Longitude), true
	case KindContact:
		return fmt.Sprintf("[Contact: %s]", m.contactName()), true
	case KindNone:
		return "", false
	default:
		return "", false
	}
}

// contactName resolves the human name of a shared contact, preferring
// the vCard formatted name when the share included one.
func (m *WebhookMessage) contactName() string {
	if m.Contact == nil {
		return "Unknown"
	}
	if m.Contact.VCard != "" {
		if name := formattedNameFromVCard(m.Contact.VCard); name != "" {
			return name
		}
	}
	if m.Contact.DisplayName != "" {
		return m.Contact.DisplayName
	}
	return "Unknown"
}

// formattedNameFromVCard extracts the FN field from raw vCard text.
// Returns "" when the card cannot be decoded or has no FN.
func formattedNameFromVCard(raw string) string {
	dec := vcard.NewDecoder(strings.NewReader(raw))
	card, err := dec.Decode()
	if err != nil {
		return ""
	}
	return card.PreferredValue(vcard.FieldFormattedName)
}

// DisplayName returns the best-known human name for the sender,
// falling back to the chat name and finally the phone number.
func (m *WebhookMessage) DisplayName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.ChatName != "" {
		return m.ChatName
	}
	return m.Phone
}
