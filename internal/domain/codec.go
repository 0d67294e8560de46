package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var ErrMissingOrganization = errors.New("organization_id is required")

// DecodeEvent decodes a producer payload. The "type" field selects the event; the remaining
// fields are the event's own, flat alongside the routing scope:
//
//	{"type":"kpi:update","organization_id":"org1","sla_risk":{"risk_level":"critical"}}
func DecodeEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("decode event: invalid JSON")
	}

	tag := EventType(gjson.GetBytes(data, "type").String())

	var (
		event Event
		err   error
	)
	switch tag {
	case EventKPIUpdate:
		event, err = decodeAs[KPIUpdate](data)
	case EventBacklogUpdate:
		event, err = decodeAs[BacklogUpdate](data)
	case EventAttendanceUpdate:
		event, err = decodeAs[AttendanceUpdate](data)
	case EventAlertTriggered:
		event, err = decodeAs[Alert](data)
	case EventScheduleCreated, EventScheduleUpdated, EventScheduleDeleted, EventSchedulePublished:
		event, err = decodeSchedule(tag, data)
	case EventSystemMaintenance, EventSystemAnnouncement:
		event, err = decodeNotice(tag, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, tag)
	}
	if err != nil {
		return nil, err
	}

	if _, isNotice := event.(SystemNotice); !isNotice && event.RoutingScope().OrganizationID == "" {
		return nil, fmt.Errorf("decode %s: %w", tag, ErrMissingOrganization)
	}
	if err := event.RoutingScope().Validate(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return event, nil
}

func decodeAs[T Event](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", v.EventType(), err)
	}
	return v, nil
}

func decodeSchedule(tag EventType, data []byte) (ScheduleChange, error) {
	change, err := decodeAs[ScheduleChange](data)
	if err != nil {
		return change, err
	}
	action := ScheduleAction(tag[len("schedule:"):])
	if change.Action != "" && change.Action != action {
		return change, fmt.Errorf("decode %s: action %q does not match type", tag, change.Action)
	}
	change.Action = action
	return change, nil
}

func decodeNotice(tag EventType, data []byte) (SystemNotice, error) {
	notice, err := decodeAs[SystemNotice](data)
	if err != nil {
		return notice, err
	}
	if tag == EventSystemMaintenance {
		notice.Kind = NoticeMaintenance
	} else {
		notice.Kind = NoticeAnnouncement
	}
	if notice.Message == "" && notice.Reason == "" {
		return notice, fmt.Errorf("decode %s: message is required", tag)
	}
	return notice, nil
}

// EncodeEvent renders event in the producer format DecodeEvent accepts.
func EncodeEvent(event Event) ([]byte, error) {
	if event == nil {
		return nil, errors.New("encode event: nil event")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	tag, err := json.Marshal(event.EventType())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	fields["type"] = tag

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	return out, nil
}
