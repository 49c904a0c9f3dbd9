// Package models defines the data exchanged between speak clients and the
// queueing daemon, and between the daemon's pipeline stages.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reply tokens written by the daemon after handling one connection.
const (
	ReplyOK    = "OK"
	ReplyError = "ERROR"
	ReplyBusy  = "BUSY"
)

// Speech parameter defaults and limits.
const (
	DefaultVoice = "am_echo"
	DefaultSpeed = 1.0
	DefaultLang  = "en-us"
	MinSpeed     = 0.5
	MaxSpeed     = 2.0
)

// previewLength is the number of characters of text shown in chunk labels.
const previewLength = 30

var (
	// ErrEmptyText is returned when a message carries no speakable text.
	ErrEmptyText = errors.New("empty text")

	// ErrInvalidSpeed is returned when speed falls outside [MinSpeed, MaxSpeed].
	ErrInvalidSpeed = errors.New("invalid speed")
)

// QueueMessage is one speech request as submitted by a client.
// It is created once by a connection handler and consumed exactly once
// by the generator stage.
type QueueMessage struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Lang  string  `json:"lang"`
}

// Defaults holds the values applied to fields a client left empty.
type Defaults struct {
	Voice string
	Speed float64
	Lang  string
}

// DefaultDefaults returns the built-in speech parameters.
func DefaultDefaults() Defaults {
	return Defaults{
		Voice: DefaultVoice,
		Speed: DefaultSpeed,
		Lang:  DefaultLang,
	}
}

// NewQueueMessage builds a message, filling empty parameters from d.
func NewQueueMessage(text, voice string, speed float64, lang string, d Defaults) QueueMessage {
	msg := QueueMessage{Text: text, Voice: voice, Speed: speed, Lang: lang}
	return msg.withDefaults(d)
}

func (m QueueMessage) withDefaults(d Defaults) QueueMessage {
	if m.Voice == "" {
		m.Voice = d.Voice
	}
	if m.Speed == 0 {
		m.Speed = d.Speed
	}
	if m.Lang == "" {
		m.Lang = d.Lang
	}
	return m
}

// Validate checks that the message can be handed to a synthesizer.
func (m QueueMessage) Validate() error {
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	if m.Speed < MinSpeed || m.Speed > MaxSpeed {
		return fmt.Errorf("%w: %.2f (must be between %.1f and %.1f)", ErrInvalidSpeed, m.Speed, MinSpeed, MaxSpeed)
	}
	return nil
}

// Marshal encodes the message in the wire format clients send.
func (m QueueMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal queue message: %w", err)
	}
	return data, nil
}

// ParseQueueMessage decodes one request body, applies d to missing
// parameters and validates the result.
func ParseQueueMessage(data []byte, d Defaults) (QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return QueueMessage{}, fmt.Errorf("parse queue message: %w", err)
	}
	msg = msg.withDefaults(d)
	if err := msg.Validate(); err != nil {
		return QueueMessage{}, err
	}
	return msg, nil
}

// Preview returns the first few characters of the text for log labels.
func (m QueueMessage) Preview() string {
	runes := []rune(m.Text)
	if len(runes) <= previewLength {
		return m.Text
	}
	return string(runes[:previewLength])
}

// AudioChunk is synthesized audio waiting for playback.
// Label is diagnostic only.
type AudioChunk struct {
	Seq     int
	Label   string
	Audio   []byte
	Message QueueMessage
}

// ChunkLabel formats the diagnostic label for the seq-th generated chunk.
func ChunkLabel(seq int, msg QueueMessage) string {
	return fmt.Sprintf("chunk #%d: '%s...'", seq, msg.Preview())
}
