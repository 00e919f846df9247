package cache

import (
	"fmt"
	"net/url"
)

const framePrefix = "minimap:"

// FrameKey описывает всё, от чего зависит отрисованный кадр
type FrameKey struct {
	ReplayID string
	Tick     int
	Size     int
	Names    bool
	Events   bool
	Grenades bool
	HoverID  string
	FocusID  string
}

// String строит ключ вида minimap:<replay>:<tick>:<size>:<flags>:<hover>:<focus>.
// Строковые части экранируются, поэтому ':' внутри id не сдвигает поля.
func (k FrameKey) String() string {
	return fmt.Sprintf("%s%s:%d:%d:%s:%s:%s",
		framePrefix, keyPart(k.ReplayID), k.Tick, k.Size, flags(k.Names, k.Events, k.Grenades),
		keyPart(k.HoverID), keyPart(k.FocusID))
}

// ReplayPattern шаблон SCAN для всех кадров повтора.
// После keyPart в id не остаётся символов glob (* ? [ ] \).
func ReplayPattern(replayID string) string {
	return replayPrefix(replayID) + "*"
}

// replayPrefix префикс ключей повтора для in-memory реализации
func replayPrefix(replayID string) string {
	return framePrefix + keyPart(replayID) + ":"
}

func keyPart(s string) string {
	return url.QueryEscape(s)
}

func flags(bits ...bool) string {
	b := make([]byte, len(bits))
	for i, v := range bits {
		if v {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
