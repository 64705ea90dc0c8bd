package model

import (
	"strings"
	"time"
)

type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Terminal reports whether no further transitions may leave this status.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed || s == Cancelled
}

type SenderKind string

const (
	SenderEmployee SenderKind = "employee"
	SenderSystem   SenderKind = "system"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindFile  MessageKind = "file"
	KindVoice MessageKind = "voice"
)

type RecurrencePattern string

const (
	PatternDaily    RecurrencePattern = "daily"
	PatternWeekly   RecurrencePattern = "weekly"
	PatternBiweekly RecurrencePattern = "biweekly"
	PatternMonthly  RecurrencePattern = "monthly"
	PatternWeekdays RecurrencePattern = "weekdays"

	// CronPrefix marks a cron-expression pattern, e.g. "cron:0 9 * * 1".
	CronPrefix = "cron:"
)

func (p RecurrencePattern) IsCron() bool {
	return strings.HasPrefix(string(p), CronPrefix)
}

func (p RecurrencePattern) CronExpr() string {
	return strings.TrimPrefix(string(p), CronPrefix)
}

// FileRef describes an attachment for file and voice messages.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime"`
}

// ScheduledMessage is the persisted intent to deliver a payload to a
// destination at a future instant. Exactly one of ChannelID/RoomID is set;
// empty string means absent. Timezone is display-only and never participates
// in due-set comparisons.
type ScheduledMessage struct {
	ID       string
	SiteCode string

	SenderKind SenderKind
	SenderID   string
	SenderName string

	ChannelID string
	RoomID    string
	ThreadID  string

	Content string
	Kind    MessageKind
	File    *FileRef

	ScheduledAt       time.Time
	Timezone          string
	IsRecurring       bool
	RecurrencePattern RecurrencePattern
	RecurrenceEndAt   *time.Time

	Status             Status
	SentAt             *time.Time
	DeliveredMessageID *string
	LastError          *string
	RetryCount         int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DestinationID returns the channel or room the message is addressed to.
func (m *ScheduledMessage) DestinationID() string {
	if m.ChannelID != "" {
		return m.ChannelID
	}
	return m.RoomID
}

// CloneForNextOccurrence returns a fresh pending record for the next run of a
// recurring message. The original record is left untouched; recurrence never
// resurrects a terminal record.
func (m *ScheduledMessage) CloneForNextOccurrence(next time.Time) *ScheduledMessage {
	clone := &ScheduledMessage{
		SiteCode:          m.SiteCode,
		SenderKind:        m.SenderKind,
		SenderID:          m.SenderID,
		SenderName:        m.SenderName,
		ChannelID:         m.ChannelID,
		RoomID:            m.RoomID,
		ThreadID:          m.ThreadID,
		Content:           m.Content,
		Kind:              m.Kind,
		ScheduledAt:       next,
		Timezone:          m.Timezone,
		IsRecurring:       true,
		RecurrencePattern: m.RecurrencePattern,
		Status:            Pending,
	}
	if m.File != nil {
		f := *m.File
		clone.File = &f
	}
	if m.RecurrenceEndAt != nil {
		t := *m.RecurrenceEndAt
		clone.RecurrenceEndAt = &t
	}
	return clone
}
