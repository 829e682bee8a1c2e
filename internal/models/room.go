package models

type RoomPrivacy string

const (
	RoomPublic  RoomPrivacy = "public"
	RoomPrivate RoomPrivacy = "private"
)

type RoomConfig struct {
	EnableScreenshare bool `json:"enable_screenshare"`
	EnableChat        bool `json:"enable_chat"`
	EnableRecording   bool `json:"enable_recording"`
	MaxParticipants   int  `json:"max_participants"`
}

type VideoRoom struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	URL     string      `json:"url"`
	Privacy RoomPrivacy `json:"privacy"`
	Config  RoomConfig  `json:"config"`
}
