package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChannelOrganization is the channel of the room every authenticated connection joins.
const ChannelOrganization = "organization"

// RoomType tags a room by the most specific scope segment in its key.
type RoomType string

const (
	RoomTypeOrganization RoomType = "organization"
	RoomTypeDepartment   RoomType = "department"
	RoomTypeQueue        RoomType = "queue"
	RoomTypeChannel      RoomType = "channel"
)

// Scope carries the routing fields shared by subscriptions and events.
type Scope struct {
	OrganizationID string `json:"organization_id,omitempty"`
	DepartmentID   string `json:"department_id,omitempty"`
	QueueName      string `json:"queue_name,omitempty"`
}

// RoutingScope returns the scope itself. Events embed Scope and inherit this method.
func (s Scope) RoutingScope() Scope { return s }

// Validate rejects scope values containing the key separator. Such a value could spell out
// further segments and collide with the key of a differently scoped room.
func (s Scope) Validate() error {
	for _, v := range []string{s.OrganizationID, s.DepartmentID, s.QueueName} {
		if strings.Contains(v, ":") {
			return fmt.Errorf("%w: %q contains ':'", ErrInvalidScope, v)
		}
	}
	return nil
}

func (s Scope) IsZero() bool {
	return s.OrganizationID == "" && s.DepartmentID == "" && s.QueueName == ""
}

// RoomKey builds the room key for channel under scope. Segments are appended only when set,
// always in the order organization, department, queue. Subscribers and producers both route
// through this function; there is no second implementation.
func RoomKey(channel string, scope Scope) string {
	var b strings.Builder
	b.WriteString(channel)
	if scope.OrganizationID != "" {
		b.WriteString(":org:")
		b.WriteString(scope.OrganizationID)
	}
	if scope.DepartmentID != "" {
		b.WriteString(":dept:")
		b.WriteString(scope.DepartmentID)
	}
	if scope.QueueName != "" {
		b.WriteString(":queue:")
		b.WriteString(scope.QueueName)
	}
	return b.String()
}

// OrganizationRoom is the key of the room joined on authentication.
func OrganizationRoom(organizationID string) string {
	return RoomKey(ChannelOrganization, Scope{OrganizationID: organizationID})
}

// RoomTypeOf derives the room type for a key built from scope.
func RoomTypeOf(scope Scope) RoomType {
	switch {
	case scope.QueueName != "":
		return RoomTypeQueue
	case scope.DepartmentID != "":
		return RoomTypeDepartment
	case scope.OrganizationID != "":
		return RoomTypeOrganization
	default:
		return RoomTypeChannel
	}
}

// MatchesChannel reports whether key was built from channel. The match stops at a segment
// boundary so "kpi" does not match "kpi_daily:org:a".
func MatchesChannel(key, channel string) bool {
	return key == channel || strings.HasPrefix(key, channel+":")
}

// Room is a directory entry snapshot. Members is derived from the membership map when the
// snapshot is taken.
type Room struct {
	Key            string    `json:"key"`
	Type           RoomType  `json:"type"`
	OrganizationID string    `json:"organization_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Members        int       `json:"members"`
}

// Subscription is the result of a subscribe request.
type Subscription struct {
	ID       string   `json:"subscription_id"`
	Channels []string `json:"subscribed_channels"`
	Rooms    []string `json:"-"`
}
