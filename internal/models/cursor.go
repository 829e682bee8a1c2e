package models

// CursorPosition is an ephemeral pointer location. X and Y are normalized to
// the shared surface, 0..1 on each axis. Timestamp is unix milliseconds.
type CursorPosition struct {
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	UserColor string  `json:"userColor"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
	IsActive  bool    `json:"isActive"`
}

type CursorClick struct {
	UserID     string  `json:"userId"`
	UserName   string  `json:"userName"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Timestamp  int64   `json:"timestamp"`
	Annotation string  `json:"annotation,omitempty"`
}
