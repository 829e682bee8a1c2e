package cursor

import "sync"

var DefaultColors = []string{
	"#FF6B6B", "#4ECDC4", "#FFE66D", "#A8E6CF", "#FF8B94",
	"#C7CEEA", "#FFDAC1", "#95E1D3", "#F38181", "#AA96DA",
}

// Palette hands out display colors by first-seen order, cycling through a
// fixed list. Assignments are local to the instance.
type Palette struct {
	mu       sync.Mutex
	colors   []string
	assigned map[string]string
}

func NewPalette() *Palette {
	return &Palette{colors: DefaultColors, assigned: make(map[string]string)}
}

// Color returns userID's color, assigning the next one on first sight.
func (p *Palette) Color(userID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.assigned[userID]; ok {
		return c
	}
	c := p.colors[len(p.assigned)%len(p.colors)]
	p.assigned[userID] = c
	return c
}
