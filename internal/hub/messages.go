package hub

import (
	"time"

	"vanscontrol/internal/presence"
	"vanscontrol/internal/ridelog"
)

// Message types exchanged over the live channel. Field names follow the
// mobile clients' contract: every message is a flat JSON object whose
// fields sit beside the "type" discriminator.
const (
	msgTypeGetInitialData = "getInitialData"
	msgTypeManualExit     = "saidaManual"
	msgTypeInitialData    = "initialData"
	msgTypeEntry          = "entrada"
	msgTypeExit           = "saida"
)

// Frame is one outbound message, marshaled as a flat object.
type Frame any

// inboundMessage carries every field a client message may set. Each
// handler reads only the fields its type defines.
type inboundMessage struct {
	Type    string `json:"type"`
	ChildID string `json:"jovemId"`
}

type snapshotMessage struct {
	Type          string              `json:"type"`
	Notifications []childNotification `json:"notifications"`
	History       []historyRecord     `json:"history"`
}

type childNotification struct {
	ChildID string `json:"jovemId"`
	Name    string `json:"nome"`
	School  string `json:"escola"`
	Time    string `json:"horario"`
}

type eventMessage struct {
	Type string `json:"type"`
	childNotification
}

type historyRecord struct {
	Kind   string `json:"tipo"`
	Name   string `json:"nome"`
	School string `json:"escola"`
	Time   string `json:"horario"`
	Source string `json:"tipoRegistro"`
}

func snapshotFrame(pending []presence.PendingEntry, history []presence.HistoryEntry) Frame {
	notifications := make([]childNotification, 0, len(pending))
	for _, entry := range pending {
		notifications = append(notifications, childNotification{
			ChildID: entry.ChildID.String(),
			Name:    entry.ChildName,
			School:  entry.School,
			Time:    entry.EntryTimestamp.UTC().Format(time.RFC3339),
		})
	}

	records := make([]historyRecord, 0, len(history))
	for _, entry := range history {
		records = append(records, historyRecord{
			Kind:   string(entry.Kind),
			Name:   entry.ChildName,
			School: entry.School,
			Time:   entry.Timestamp.UTC().Format(time.RFC3339),
			Source: string(entry.Source),
		})
	}

	return snapshotMessage{
		Type:          msgTypeInitialData,
		Notifications: notifications,
		History:       records,
	}
}

func notificationFrame(kind ridelog.Kind, n Notification) eventMessage {
	frameType := msgTypeEntry
	if kind == ridelog.KindExit {
		frameType = msgTypeExit
	}
	return eventMessage{
		Type: frameType,
		childNotification: childNotification{
			ChildID: n.ChildID.String(),
			Name:    n.ChildName,
			School:  n.School,
			Time:    n.Timestamp.UTC().Format(time.RFC3339),
		},
	}
}
