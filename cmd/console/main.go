// Command console joins a project's collaboration channels from a terminal:
// chat, presence and a live view of remote cursors and annotations.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"geoforge/internal/config"
	"geoforge/internal/cursor"
	"geoforge/internal/messaging"
	"geoforge/internal/models"
	"geoforge/internal/presence"
	"geoforge/internal/realtime"
	"geoforge/internal/redis"

	"github.com/google/uuid"
)

const usage = `commands:
  <text>                 send a chat message
  /move <x> <y>          move your cursor (0..1)
  /click <x> <y> [note]  drop an annotation
  /leave                 hide your cursor
  /away | /online        set presence status
  /who                   list members
  /cursors               list live cursors and annotations
  /quit                  exit`

func main() {
	var (
		projectID = flag.String("project", "", "project id (required)")
		sessionID = flag.String("session", "", "cursor session id (defaults to the project id)")
		userID    = flag.String("user", "", "user id (defaults to a random id)")
		userName  = flag.String("name", "", "display name (defaults to the user id)")
	)
	flag.Parse()

	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if *projectID == "" {
		fmt.Fprintln(os.Stderr, "-project is required")
		flag.Usage()
		os.Exit(2)
	}
	if *sessionID == "" {
		*sessionID = *projectID
	}
	if *userID == "" {
		*userID = "user-" + uuid.NewString()[:8]
	}
	if *userName == "" {
		*userName = *userID
	}
	if cfg.RedisURL == "" {
		fmt.Fprintln(os.Stderr, "REDIS_URL is not set; realtime collaboration is unavailable")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}

	connectionID := uuid.NewString()
	rt := realtime.NewClient(redisClient, redisClient, connectionID)
	defer rt.Close()

	cursors := cursor.NewTracker(cursor.TrackerConfig{
		SelfID:    *userID,
		CursorTTL: cfg.CursorTTL,
		ClickTTL:  cfg.ClickTTL,
	})
	s := &session{
		projectID: *projectID,
		userID:    *userID,
		userName:  *userName,
		rt:        rt,
		composer:  messaging.NewComposer(messaging.NewService(rt), *projectID, *userID, *userName),
		presence:  presence.NewTracker(rt, connectionID),
		publisher: cursor.NewPublisher(rt, *sessionID, *userID, *userName, cfg.CursorThrottle, nil),
		cursors:   cursors,
	}

	if err := s.join(ctx, *sessionID); err != nil {
		fmt.Fprintln(os.Stderr, "join:", err)
		os.Exit(1)
	}
	defer s.leave()

	fmt.Printf("joined %s as %s\n%s\n", models.ProjectChannel(*projectID), *userName, usage)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var heartbeat <-chan time.Time
	if interval := cfg.HeartbeatInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat:
			if err := s.presence.Heartbeat(ctx); err != nil {
				slog.Warn("[PRESENCE] Heartbeat failed", "user", s.userID, "error", err)
			}
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return
			}
			s.handle(ctx, line)
		}
	}
}

type session struct {
	projectID string
	userID    string
	userName  string

	rt        *realtime.Client
	composer  *messaging.Composer
	presence  *presence.Tracker
	publisher *cursor.Publisher
	cursors   *cursor.Tracker
	disposers []func()
}

func (s *session) join(ctx context.Context, sessionID string) error {
	channel := models.ProjectChannel(s.projectID)

	var (
		mu   sync.Mutex
		seen int
	)
	s.composer.OnChange(func() {
		mu.Lock()
		defer mu.Unlock()

		msgs := s.composer.Messages()
		for _, m := range msgs[seen:] {
			prefix := ""
			if m.Type == models.MessageAlert {
				prefix = "[ALERT] "
			}
			fmt.Printf("%s %s%s: %s\n", m.Timestamp.Format("15:04:05"), prefix, m.UserName, m.Content)
		}
		seen = len(msgs)
	})

	detach, err := s.composer.Attach(ctx)
	if err != nil {
		return err
	}
	s.disposers = append(s.disposers, detach)

	var typing *messaging.TypingTracker
	typing = messaging.NewTypingTracker(s.userID, messaging.DefaultTypingTTL, func() {
		if line := formatTyping(typing.Typing()); line != "" {
			fmt.Printf("  %s\n", line)
		}
	})
	detachTyping, err := typing.Attach(ctx, messaging.NewService(s.rt), s.projectID)
	if err != nil {
		return err
	}
	s.disposers = append(s.disposers, detachTyping)

	unsubPresence, err := presence.SubscribeToPresence(ctx, s.rt, channel, func(members []realtime.Member) {
		fmt.Printf("  online: %s\n", formatMembers(members))
	})
	if err != nil {
		return err
	}
	s.disposers = append(s.disposers, unsubPresence)

	detachCursors, err := s.cursors.Attach(ctx, s.rt, sessionID)
	if err != nil {
		return err
	}
	s.disposers = append(s.disposers, detachCursors)

	return s.presence.Enter(ctx, channel, models.PresenceRecord{
		UserID:   s.userID,
		UserName: s.userName,
		Status:   models.StatusOnline,
	})
}

func (s *session) leave() {
	for _, d := range s.disposers {
		d()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.publisher.Leave(ctx)
	_ = s.presence.LeaveAll(ctx)
}

func (s *session) handle(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	channel := models.ProjectChannel(s.projectID)

	var err error
	switch fields[0] {
	case "/move":
		x, y, perr := parseXY(fields)
		if perr != nil {
			err = perr
			break
		}
		var published bool
		published, err = s.publisher.Move(ctx, x, y)
		if err == nil && !published {
			fmt.Println("  (not sent: out of bounds or throttled)")
		}
	case "/click":
		x, y, perr := parseXY(fields)
		if perr != nil {
			err = perr
			break
		}
		err = s.publisher.Click(ctx, x, y, strings.Join(fields[3:], " "))
	case "/leave":
		err = s.publisher.Leave(ctx)
	case "/away":
		err = s.presence.Update(ctx, channel, models.StatusAway)
	case "/online":
		err = s.presence.Update(ctx, channel, models.StatusOnline)
	case "/who":
		var members []realtime.Member
		members, err = presence.Members(ctx, s.rt, channel)
		if err == nil {
			fmt.Printf("  online: %s\n", formatMembers(members))
		}
	case "/cursors":
		for _, c := range s.cursors.Cursors() {
			fmt.Printf("  %s %s at (%.2f, %.2f)\n", c.UserColor, c.UserName, c.X, c.Y)
		}
		for _, a := range s.cursors.Annotations() {
			fmt.Printf("  %s %s clicked (%.2f, %.2f) %s\n", a.Color, a.UserName, a.X, a.Y, a.Annotation)
		}
	default:
		if strings.HasPrefix(fields[0], "/") {
			fmt.Println(usage)
			return
		}
		_ = s.composer.Typing(ctx)
		s.composer.SetInput(line)
		if err = s.composer.Send(ctx); err != nil {
			fmt.Printf("  input kept: %q\n", s.composer.Input())
		}
	}

	if err != nil {
		fmt.Printf("! %s failed: %v\n", fields[0], err)
	}
}

func parseXY(fields []string) (float64, float64, error) {
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("usage: %s <x> <y>", fields[0])
	}
	x, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func formatTyping(list []models.TypingData) string {
	switch len(list) {
	case 0:
		return ""
	case 1:
		return list[0].UserName + " is typing..."
	}
	names := make([]string, 0, len(list))
	for _, d := range list {
		names = append(names, d.UserName)
	}
	return strings.Join(names, ", ") + " are typing..."
}

func formatMembers(members []realtime.Member) string {
	if len(members) == 0 {
		return "(nobody)"
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, fmt.Sprintf("%s (%s)", m.Record.UserName, m.Record.Status))
	}
	return strings.Join(names, ", ")
}
