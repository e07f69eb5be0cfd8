package models

import (
	"time"
)

// Role enumerates the organizational roles a dashboard account can hold.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleStaff      Role = "STAFF"
	RoleStoreOwner Role = "STORE_OWNER"
)

// ChatUser is a possible messaging counterpart. Fetched from the REST API and
// treated as immutable for the rest of the session.
type ChatUser struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Avatar         string `json:"avatar,omitempty"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// Conversation is always a direct conversation between exactly two members.
// The server owns conversation ids; clients never mint them.
type Conversation struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	Members     []ChatUser `json:"members"`
	LastMessage *Message   `json:"last_message,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const ConversationDirect = "direct"

// PageMeta mirrors the pagination envelope of the REST collaborator.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// MessagePage is one page of a conversation's history.
type MessagePage struct {
	Data []*Message `json:"data"`
	Meta PageMeta   `json:"meta"`
}
