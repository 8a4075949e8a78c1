package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// ShippingMessageType identifies messages from the embedded shipping widget.
	ShippingMessageType = "litium-connect-shipping"
	// EventOptionChanging is posted when the shopper picks a delivery alternative in the widget.
	EventOptionChanging = "optionChanging"
)

// ErrEmptyMessage is returned for blank message payloads.
var ErrEmptyMessage = errors.New("widget: empty message")

// Message is the cross-frame message contract.
type Message struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  struct {
		Value string `json:"value"`
	} `json:"data"`
}

// ParseMessage decodes a raw JSON message.
func ParseMessage(raw []byte) (Message, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Message{}, ErrEmptyMessage
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("widget: decode message: %w", err)
	}
	return msg, nil
}

// IsShippingOptionChanging reports whether msg selects a delivery alternative.
func (m Message) IsShippingOptionChanging() bool {
	return m.Type == ShippingMessageType && m.Event == EventOptionChanging
}

// Value returns the selected widget value.
func (m Message) Value() string {
	return m.Data.Value
}
