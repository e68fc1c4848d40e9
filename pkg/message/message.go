// Package message defines the typed multimodal message model shared by the
// prompter, memory, and LLM client components.
package message

import (
	"encoding/base64"
	"fmt"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AttachmentType distinguishes the three supported multimodal payload kinds.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
)

var allowedFormats = map[AttachmentType]map[string]bool{
	AttachmentImage: {"png": true, "jpg": true, "jpeg": true, "bmp": true, "gif": true, "webp": true, "tiff": true, "icns": true},
	AttachmentAudio: {"mp3": true, "wav": true, "ogg": true, "flac": true, "aac": true, "m4a": true},
	AttachmentVideo: {"mp4": true, "webm": true, "mov": true, "avi": true, "mkv": true, "flv": true},
}

var mimePrefix = map[AttachmentType]string{
	AttachmentImage: "image",
	AttachmentAudio: "audio",
	AttachmentVideo: "video",
}

// InvalidMultimodalPayloadError is raised when an attachment's base64 payload
// fails to decode or its declared format is outside the allowed enumeration.
type InvalidMultimodalPayloadError struct {
	Type   AttachmentType
	Format string
	Reason string
}

func (e *InvalidMultimodalPayloadError) Error() string {
	return fmt.Sprintf("invalid multimodal payload (%s/%s): %s", e.Type, e.Format, e.Reason)
}

// Attachment is a single base64-encoded multimodal payload attached to a
// Message.
type Attachment struct {
	Type    AttachmentType
	Format  string
	Payload string // base64-encoded
}

// ToolCall is an assistant-produced request to invoke a registered tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is an ordered, immutable-once-appended record in a session's
// transcript. A Message is illegal if it carries neither text nor
// attachments, unless it is an assistant turn carrying tool calls.
type Message struct {
	Role        Role
	Content     string
	Attachments []Attachment
	ToolCalls   []ToolCall // set only when Role == RoleAssistant
	ToolCallID  string     // set only when Role == RoleTool; must reference an earlier ToolCalls[i].ID
}

// New constructs a text-only Message for the given role.
func New(role Role, content string) *Message {
	return &Message{Role: role, Content: content}
}

// AddText appends to the message's text content.
func (m *Message) AddText(text string) *Message {
	m.Content += text
	return m
}

// AddImage attaches a base64-encoded image, validating the payload decodes
// and the format is one of the allowed image extensions.
func (m *Message) AddImage(b64 string, format string) error {
	return m.addAttachment(AttachmentImage, b64, format)
}

// AddAudio attaches a base64-encoded audio clip.
func (m *Message) AddAudio(b64 string, format string) error {
	return m.addAttachment(AttachmentAudio, b64, format)
}

// AddVideo attaches a base64-encoded video clip.
func (m *Message) AddVideo(b64 string, format string) error {
	return m.addAttachment(AttachmentVideo, b64, format)
}

func (m *Message) addAttachment(kind AttachmentType, b64 string, format string) error {
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		return &InvalidMultimodalPayloadError{Type: kind, Format: format, Reason: "payload is not valid base64"}
	}
	if !allowedFormats[kind][format] {
		return &InvalidMultimodalPayloadError{Type: kind, Format: format, Reason: "format not in allowed enumeration"}
	}
	m.Attachments = append(m.Attachments, Attachment{Type: kind, Format: format, Payload: b64})
	return nil
}

// IsEmpty reports whether the message has neither text nor attachments.
// ToBackend rejects such a message unless it carries tool calls.
func (m *Message) IsEmpty() bool {
	return m.Content == "" && len(m.Attachments) == 0
}

// ContentPart is one element of a multipart backend-form message content
// list: either a "text" part or an "image_url" part carrying a data URL.
type ContentPart struct {
	Type     string // "text" or "image_url"
	Text     string `json:",omitempty"`
	ImageURL string `json:",omitempty"` // data:<mime>;base64,<payload>
}

// BackendMessage is the wire shape sent to an OpenAI-compatible chat
// completions endpoint.
type BackendMessage struct {
	Role       string
	Content    string        // set when the message is text-only
	Parts      []ContentPart // set when the message carries attachments
	ToolCalls  []ToolCall    `json:",omitempty"`
	ToolCallID string        `json:",omitempty"`
}

// ToBackend serializes the message to its wire form. A text-only message
// produces a plain string Content; a message with attachments produces one
// "text" part (if any text is present) followed by one "image_url" part per
// attachment.
func (m *Message) ToBackend() (BackendMessage, error) {
	if m.IsEmpty() && len(m.ToolCalls) == 0 {
		return BackendMessage{}, fmt.Errorf("message has neither text, attachments, nor tool calls")
	}

	bm := BackendMessage{
		Role:       string(m.Role),
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}

	if len(m.Attachments) == 0 {
		bm.Content = m.Content
		return bm, nil
	}

	if m.Content != "" {
		bm.Parts = append(bm.Parts, ContentPart{Type: "text", Text: m.Content})
	}
	for _, a := range m.Attachments {
		mime := fmt.Sprintf("%s/%s", mimePrefix[a.Type], a.Format)
		bm.Parts = append(bm.Parts, ContentPart{
			Type:     "image_url",
			ImageURL: fmt.Sprintf("data:%s;base64,%s", mime, a.Payload),
		})
	}
	return bm, nil
}

// HasMultimodalAttachment reports whether the message carries any non-text
// attachment, used by the LLM client's round-robin backend selector to
// filter on multimodal capability.
func (m *Message) HasMultimodalAttachment() bool {
	return len(m.Attachments) > 0
}
