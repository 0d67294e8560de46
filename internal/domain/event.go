package domain

import "time"

// EventType is the discriminator carried in the envelope's event field.
type EventType string

const (
	EventKPIUpdate          EventType = "kpi:update"
	EventBacklogUpdate      EventType = "backlog:update"
	EventAttendanceUpdate   EventType = "attendance:update"
	EventAlertTriggered     EventType = "alert:triggered"
	EventScheduleCreated    EventType = "schedule:created"
	EventScheduleUpdated    EventType = "schedule:updated"
	EventScheduleDeleted    EventType = "schedule:deleted"
	EventSchedulePublished  EventType = "schedule:published"
	EventSystemMaintenance  EventType = "system:maintenance"
	EventSystemAnnouncement EventType = "system:announcement"
	EventMessageAck         EventType = "message:ack"
)

// Channels producers route to. Clients subscribe with these names.
const (
	ChannelKPI        = "kpi"
	ChannelBacklog    = "backlog"
	ChannelAttendance = "attendance"
	ChannelAlerts     = "alerts"
	ChannelSchedules  = "schedules"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	RiskLevelCritical = "critical"
	TrendGrowing      = "growing"

	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"

	// AttendanceRateThreshold is the rate below which attendance updates are high priority.
	AttendanceRateThreshold = 0.85
)

// Event is the closed set of domain events the dispatcher accepts. The unexported marker
// keeps implementations inside this package.
type Event interface {
	EventType() EventType
	RoutingScope() Scope
	isEvent()
}

// SLARisk is the service-level risk indicator embedded in KPI updates.
type SLARisk struct {
	RiskLevel             string  `json:"risk_level"`
	BreachProbability     float64 `json:"breach_probability,omitempty"`
	ProjectedServiceLevel float64 `json:"projected_service_level,omitempty"`
}

type KPIUpdate struct {
	Scope
	ServiceLevel      float64            `json:"service_level"`
	Occupancy         float64            `json:"occupancy"`
	AverageHandleTime float64            `json:"average_handle_time"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	SLARisk           SLARisk            `json:"sla_risk"`
}

type BacklogUpdate struct {
	Scope
	TotalItems            int     `json:"total_items"`
	ItemsOverSLA          int     `json:"sla_breached_count"`
	ItemsAtRisk           int     `json:"sla_at_risk_count"`
	OldestItemAgeDays     int     `json:"oldest_item_age_days"`
	SLAComplianceRate     float64 `json:"sla_compliance_rate"`
	BacklogTrend          string  `json:"backlog_trend"`
	EstimatedRecoveryDays float64 `json:"estimated_recovery_days,omitempty"`
}

type AttendanceUpdate struct {
	Scope
	ScheduledStaff int     `json:"scheduled_staff"`
	PresentStaff   int     `json:"present_staff"`
	AbsentStaff    int     `json:"absent_staff"`
	LateStaff      int     `json:"late_staff"`
	AttendanceRate float64 `json:"attendance_rate"`
}

type Alert struct {
	Scope
	AlertID  string `json:"alert_id"`
	Severity string `json:"severity"`
	Category string `json:"category,omitempty"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

type ScheduleAction string

const (
	ScheduleCreated   ScheduleAction = "created"
	ScheduleUpdated   ScheduleAction = "updated"
	ScheduleDeleted   ScheduleAction = "deleted"
	SchedulePublished ScheduleAction = "published"
)

type ScheduleChange struct {
	Scope
	Action     ScheduleAction `json:"action"`
	ScheduleID string         `json:"schedule_id"`
	StaffID    string         `json:"staff_id,omitempty"`
	ChangedBy  string         `json:"changed_by,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

type NoticeKind string

const (
	NoticeMaintenance  NoticeKind = "maintenance"
	NoticeAnnouncement NoticeKind = "announcement"
)

// SystemNotice is a system-wide message. With an organization scope it reaches that
// organization's room, without one it reaches every connection.
type SystemNotice struct {
	Scope
	Kind         NoticeKind `json:"kind"`
	Title        string     `json:"title,omitempty"`
	Message      string     `json:"message"`
	Severity     string     `json:"severity,omitempty"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	DisconnectIn int        `json:"disconnect_in,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (KPIUpdate) EventType() EventType        { return EventKPIUpdate }
func (BacklogUpdate) EventType() EventType    { return EventBacklogUpdate }
func (AttendanceUpdate) EventType() EventType { return EventAttendanceUpdate }
func (Alert) EventType() EventType            { return EventAlertTriggered }

func (e ScheduleChange) EventType() EventType {
	return EventType("schedule:" + string(e.Action))
}

func (n SystemNotice) EventType() EventType {
	if n.Kind == NoticeMaintenance {
		return EventSystemMaintenance
	}
	return EventSystemAnnouncement
}

func (KPIUpdate) isEvent()        {}
func (BacklogUpdate) isEvent()    {}
func (AttendanceUpdate) isEvent() {}
func (Alert) isEvent()            {}
func (ScheduleChange) isEvent()   {}
func (SystemNotice) isEvent()     {}

// PriorityOf derives an envelope priority from the event's own urgency fields.
func PriorityOf(event Event) Priority {
	switch e := event.(type) {
	case KPIUpdate:
		if e.SLARisk.RiskLevel == RiskLevelCritical {
			return PriorityUrgent
		}
		return PriorityMedium
	case BacklogUpdate:
		if e.BacklogTrend == TrendGrowing {
			return PriorityHigh
		}
		return PriorityMedium
	case AttendanceUpdate:
		if e.AttendanceRate < AttendanceRateThreshold {
			return PriorityHigh
		}
		return PriorityMedium
	case Alert:
		switch e.Severity {
		case SeverityCritical:
			return PriorityUrgent
		case SeverityError:
			return PriorityHigh
		default:
			return PriorityMedium
		}
	case ScheduleChange:
		if e.Action == SchedulePublished {
			return PriorityHigh
		}
		return PriorityMedium
	case SystemNotice:
		if e.Kind == NoticeMaintenance {
			return PriorityHigh
		}
		switch e.Severity {
		case SeverityCritical:
			return PriorityUrgent
		case SeverityWarning:
			return PriorityHigh
		default:
			return PriorityLow
		}
	default:
		return PriorityMedium
	}
}

// ChannelOf returns the channel an event is published on.
func ChannelOf(event Event) string {
	switch event.(type) {
	case KPIUpdate:
		return ChannelKPI
	case BacklogUpdate:
		return ChannelBacklog
	case AttendanceUpdate:
		return ChannelAttendance
	case Alert:
		return ChannelAlerts
	case ScheduleChange:
		return ChannelSchedules
	case SystemNotice:
		return ChannelOrganization
	default:
		return ""
	}
}

// Route returns the room an event is delivered to. everyone is true for system notices
// without an organization, which bypass rooms entirely.
func Route(event Event) (room string, everyone bool) {
	if notice, ok := event.(SystemNotice); ok {
		if notice.OrganizationID == "" {
			return "", true
		}
		return OrganizationRoom(notice.OrganizationID), false
	}
	return RoomKey(ChannelOf(event), event.RoutingScope()), false
}
