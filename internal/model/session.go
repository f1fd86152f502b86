package model

import "time"

// SessionMessage 代表会话中的一条消息。
type SessionMessage struct {
	Role string    `json:"role"` // "user" 或 "assistant"
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// SessionState 是会话短期状态，由 Redis 以硬 TTL 保存，
// 过期后读取视同不存在，无需主动清扫。
type SessionState struct {
	SessionID         string           `json:"session_id"`
	Messages          []SessionMessage `json:"messages"`
	LastPhotoURI      string           `json:"last_photo_uri,omitempty"`
	LastScreenshotURI string           `json:"last_screenshot_uri,omitempty"`
	LastAudioURI      string           `json:"last_audio_uri,omitempty"`
}

// AppendMessage 追加一条消息并把窗口裁剪到最近 max 条（旧的丢弃）。
func (s *SessionState) AppendMessage(msg SessionMessage, max int) {
	s.Messages = append(s.Messages, msg)
	if max > 0 && len(s.Messages) > max {
		s.Messages = s.Messages[len(s.Messages)-max:]
	}
}
