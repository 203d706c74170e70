package domain

import (
	"strings"
	"time"
)

// AuditKind discriminates entries of the ticket timeline.
type AuditKind string

const (
	AuditSystemNote AuditKind = "system_note"
	AuditComment    AuditKind = "comment"
	AuditChat       AuditKind = "chat"
)

// ChatKind identifies one of the two chat channels attached to a ticket.
type ChatKind string

const (
	ChatSupervisorAnalyst ChatKind = "supervisor_analyst"
	ChatAnalystClient     ChatKind = "analyst_client"
)

// Legacy text markers used by rows written before the channel column existed.
const (
	legacySupervisorAnalystMarker = "CHAT_SUPERVISOR_ANALISTA:"
	legacyAnalystClientMarker     = "CHAT_ANALISTA_CLIENTE:"
)

// Valid reports whether k is a known chat channel.
func (k ChatKind) Valid() bool {
	return k == ChatSupervisorAnalyst || k == ChatAnalystClient
}

// Allows reports whether role may post on the channel.
func (k ChatKind) Allows(role Role) bool {
	if role == RoleAdministrator {
		return k.Valid()
	}
	switch k {
	case ChatSupervisorAnalyst:
		return role == RoleSupervisor || role == RoleAnalyst
	case ChatAnalystClient:
		return role == RoleAnalyst || role == RoleClient
	}
	return false
}

// Author identifies the human who wrote an entry.
type Author struct {
	Role Role
	ID   int64
}

// AuditEntry is an immutable timeline entry: a system note, a comment or a chat message.
type AuditEntry struct {
	ID        int64
	TicketID  int64
	Kind      AuditKind
	Channel   ChatKind
	Author    *Author
	Text      string
	CreatedAt time.Time
}

// VisibleTo reports whether role may read the entry.
func (e *AuditEntry) VisibleTo(role Role) bool {
	if e.Kind == AuditChat && e.Channel == ChatSupervisorAnalyst {
		return role != RoleClient
	}
	return true
}

// ParseLegacyText maps an old prefixed comment body onto kind, channel and text.
func ParseLegacyText(raw string, hasAuthor bool) (AuditKind, ChatKind, string) {
	switch {
	case strings.HasPrefix(raw, legacySupervisorAnalystMarker):
		return AuditChat, ChatSupervisorAnalyst, strings.TrimPrefix(raw, legacySupervisorAnalystMarker)
	case strings.HasPrefix(raw, legacyAnalystClientMarker):
		return AuditChat, ChatAnalystClient, strings.TrimPrefix(raw, legacyAnalystClientMarker)
	case hasAuthor:
		return AuditComment, "", raw
	default:
		return AuditSystemNote, "", raw
	}
}
