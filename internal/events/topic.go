package events

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

type topicKind uint8

const (
	topicInvalid topicKind = iota
	topicAll
	topicRole
	topicUser
	topicTicket
	topicChat
)

// Topic names a subscriber set. Values are only built through the constructors
// below, so a Topic always names a well-formed channel; it is comparable and
// usable as a map key.
type Topic struct {
	kind topicKind
	role domain.Role
	chat domain.ChatKind
	id   int64
}

// TopicAll targets every live connection.
func TopicAll() Topic { return Topic{kind: topicAll} }

// RoleTopic targets every connection of a role.
func RoleTopic(role domain.Role) Topic { return Topic{kind: topicRole, role: role} }

// UserTopic targets the connections of one user. People live in one table per
// role, so the role is part of the identity.
func UserTopic(role domain.Role, userID int64) Topic {
	return Topic{kind: topicUser, role: role, id: userID}
}

// TicketTopic targets connections following one ticket.
func TicketTopic(ticketID int64) Topic { return Topic{kind: topicTicket, id: ticketID} }

// ChatTopic targets connections following one chat thread of a ticket.
func ChatTopic(ticketID int64, kind domain.ChatKind) Topic {
	return Topic{kind: topicChat, chat: kind, id: ticketID}
}

// CriticalRoles are the dashboards that receive critical_ticket_update.
var CriticalRoles = []domain.Role{domain.RoleClient, domain.RoleAnalyst, domain.RoleSupervisor}

// IsAll reports whether t targets every connection.
func (t Topic) IsAll() bool { return t.kind == topicAll }

// IsZero reports whether t was never constructed.
func (t Topic) IsZero() bool { return t.kind == topicInvalid }

func (t Topic) String() string {
	switch t.kind {
	case topicAll:
		return "all"
	case topicRole:
		return "role:" + string(t.role)
	case topicUser:
		return "user:" + string(t.role) + ":" + strconv.FormatInt(t.id, 10)
	case topicTicket:
		return "ticket:" + strconv.FormatInt(t.id, 10)
	case topicChat:
		return "chat:" + string(t.chat) + ":" + strconv.FormatInt(t.id, 10)
	}
	return "invalid"
}

// MarshalText encodes the topic name; used when relaying events between instances.
func (t Topic) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("marshal zero topic")
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses a name produced by MarshalText.
func (t *Topic) UnmarshalText(text []byte) error {
	parsed, err := ParseTopic(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(name string) (Topic, error) {
	if name == "all" {
		return TopicAll(), nil
	}
	parts := strings.Split(name, ":")
	switch {
	case len(parts) == 2 && parts[0] == "role":
		role := domain.Role(parts[1])
		if !role.Valid() {
			return Topic{}, fmt.Errorf("unknown role in topic %q", name)
		}
		return RoleTopic(role), nil
	case len(parts) == 2 && parts[0] == "ticket":
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return Topic{}, fmt.Errorf("invalid id in topic %q: %w", name, err)
		}
		return TicketTopic(id), nil
	case len(parts) == 3 && parts[0] == "user":
		role := domain.Role(parts[1])
		if !role.Valid() {
			return Topic{}, fmt.Errorf("unknown role in topic %q", name)
		}
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Topic{}, fmt.Errorf("invalid id in topic %q: %w", name, err)
		}
		return UserTopic(role, id), nil
	case len(parts) == 3 && parts[0] == "chat":
		kind := domain.ChatKind(parts[1])
		if !kind.Valid() {
			return Topic{}, fmt.Errorf("unknown chat kind in topic %q", name)
		}
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Topic{}, fmt.Errorf("invalid id in topic %q: %w", name, err)
		}
		return ChatTopic(id, kind), nil
	}
	return Topic{}, fmt.Errorf("unknown topic %q", name)
}
