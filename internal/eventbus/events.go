package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source имя сервиса в поле Envelope.Source
const Source = "replay-minimap"

// Типы событий воспроизведения и каталога повторов.
// Используются как суффикс subject'а JetStream, поэтому без точек.
const (
	TypePlaybackSeek   = "playback_seek"
	TypePlaybackToggle = "playback_toggle"
	TypePlaybackSpeed  = "playback_speed"
	TypePlaybackFrame  = "playback_frame"
	TypePlayerClick    = "player_click"
	TypeSessionOpened  = "session_opened"
	TypeSessionClosed  = "session_closed"
	TypeReplayUploaded = "replay_uploaded"
	TypeReplayDeleted  = "replay_deleted"
)

// Приоритеты: кадры можно терять, команды пользователя нет.
const (
	PriorityFrame   = 0
	PriorityCommand = 5
	PriorityCatalog = 7
)

// ErrBusClosed возвращается после Close
var ErrBusClosed = errors.New("eventbus: шина закрыта")

// PlaybackPayload полезная нагрузка событий воспроизведения
type PlaybackPayload struct {
	SessionID string  `json:"session_id"`
	ReplayID  string  `json:"replay_id"`
	Tick      int     `json:"tick"`
	MaxTick   int     `json:"max_tick"`
	Playing   bool    `json:"playing"`
	Speed     float64 `json:"speed"`
	PlayerID  string  `json:"player_id,omitempty"`
}

// ReplayPayload полезная нагрузка событий каталога
type ReplayPayload struct {
	ReplayID string `json:"replay_id"`
	MapName  string `json:"map_name,omitempty"`
	User     string `json:"user,omitempty"`
}

// NewEnvelope сериализует payload в JSON и оборачивает в Envelope
func NewEnvelope(eventType string, priority int, correlationID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventbus: сериализация %s: %w", eventType, err)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        Source,
		EventType:     eventType,
		Version:       1,
		CorrelationID: correlationID,
		Priority:      priority,
		Payload:       data,
	}, nil
}

// Decode разбирает Payload в out
func (ev *Envelope) Decode(out any) error {
	return json.Unmarshal(ev.Payload, out)
}
