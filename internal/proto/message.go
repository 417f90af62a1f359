// Package proto defines the JSON frames exchanged with the realtime gateway.
// Both directions use a thin {type, data} envelope; payload structs below
// mirror the gateway's event vocabulary.
package proto

import (
	"encoding/json"
	"time"
)

const ProtocolVersion = 1

// Intent types (client to server).
const (
	IntentHello             = "hello"
	IntentJoinConversation  = "join_conversation"
	IntentLeaveConversation = "leave_conversation"
	IntentSendMessage       = "send_message"
	IntentTypingStart       = "typing_start"
	IntentTypingStop        = "typing_stop"
	IntentMessageRead       = "message_read"
	IntentMessageDelivered  = "message_delivered"
)

// Event types (server to client).
const (
	EventHelloAck          = "hello_ack"
	EventPresenceChange    = "presence_change"
	EventNewMessage        = "new_message"
	EventNewConversation   = "new_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMessageRead       = "message_read"
	EventMessageDelivered  = "message_delivered"
	EventUnreadCountUpdate = "unread_count_update"
	EventFoodReserved      = "food_reserved"
	EventFoodStatusUpdate  = "food_status_update"
	EventError             = "error"
)

// Intent is the envelope for frames the client sends to the server.
type Intent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is the envelope for frames the server pushes to the client.
type Event struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// NewIntent marshals data and wraps it in an Intent envelope.
func NewIntent(typ string, data any) (Intent, error) {
	if data == nil {
		return Intent{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Type: typ, Data: raw}, nil
}

// HelloData introduces the client and carries the session credential.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// HelloAckData confirms a successful handshake.
type HelloAckData struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// JoinData subscribes the client to a conversation.
type JoinData struct {
	ConversationID string `json:"conversationId"`
}

// LeaveData unsubscribes the client from a conversation.
type LeaveData struct {
	ConversationID string `json:"conversationId"`
}

// MessageContent is the body of a chat message.
type MessageContent struct {
	Text     string `json:"text"`
	Type     string `json:"type,omitempty"` // "text" when empty
	ImageURL string `json:"imageUrl,omitempty"`
}

// SendMessageData asks the server to deliver a message to a conversation.
type SendMessageData struct {
	ConversationID string         `json:"conversationId"`
	Content        MessageContent `json:"content"`
}

// TypingData scopes a typing intent to a conversation.
type TypingData struct {
	ConversationID string `json:"conversationId"`
}

// ReceiptData marks a message read or delivered.
type ReceiptData struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// PresenceChangeData reports a peer going online or offline.
type PresenceChangeData struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// MessagePayload is a chat message as delivered by the server.
type MessagePayload struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	SenderName     string         `json:"senderName,omitempty"`
	Content        MessageContent `json:"content"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewMessageData carries an inbound chat message.
type NewMessageData struct {
	ConversationID string         `json:"conversationId"`
	Message        MessagePayload `json:"message"`
}

// NewConversationData announces a conversation started by a peer.
type NewConversationData struct {
	ConversationID string          `json:"conversationId"`
	Message        *MessagePayload `json:"message,omitempty"`
}

// TypingEventData reports a remote peer's typing state change.
type TypingEventData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}

// ReceiptEventData reports a read/delivered receipt from a peer.
type ReceiptEventData struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId,omitempty"`
	At             time.Time `json:"at"`
}

// UnreadCountData carries the total unread message count for the user.
type UnreadCountData struct {
	TotalUnread int `json:"totalUnread"`
}

// FoodReservedData notifies a provider that a listing was reserved.
type FoodReservedData struct {
	FoodID        string `json:"foodId"`
	FoodTitle     string `json:"foodTitle"`
	RequesterName string `json:"requesterName"`
}

// FoodStatusData notifies a provider about a listing status change.
type FoodStatusData struct {
	FoodID    string `json:"foodId"`
	FoodTitle string `json:"foodTitle,omitempty"`
	NewStatus string `json:"newStatus"` // collected, expired, available
}

// Error describes a protocol-level error pushed by the server.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Protocol-level error codes the client reacts to.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
)
