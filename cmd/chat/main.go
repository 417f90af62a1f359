package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sharebite/sharebite-client/internal/app"
	"github.com/sharebite/sharebite-client/internal/config"
	"github.com/sharebite/sharebite-client/internal/log"
	"github.com/sharebite/sharebite-client/internal/proto"
	"github.com/sharebite/sharebite-client/internal/realtime"
)

func main() {
	var (
		configPath string
		serverURL  string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&serverURL, "server", "", "gateway URL override (ws:// or wss://)")
	flag.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	bootLogger := log.New("info")
	cfg, cfgPath, err := config.Load(bootLogger, configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	cfg.UpdateFrom(config.Config{ServerURL: serverURL, LogLevel: logLevel})

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", cfgPath).Str("server", cfg.ServerURL).Msg("starting sharebite chat")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	appErr := make(chan error, 1)
	go func() {
		appErr <- application.Run(ctx)
	}()

	events, unsubscribe := application.Manager().Events()
	defer unsubscribe()
	go printEvents(ctx, events)

	repl(ctx, stop, application)

	if err := <-appErr; err != nil {
		logger.Fatal().Err(err).Msg("client exited with error")
	}
	logger.Info().Msg("client stopped")
}

// printEvents renders manager events as chat output.
func printEvents(ctx context.Context, events <-chan *realtime.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			renderEvent(ev)
		}
	}
}

func renderEvent(ev *realtime.Event) {
	switch ev.Kind {
	case realtime.EventConnected:
		fmt.Println("* connected")
	case realtime.EventDisconnected:
		fmt.Println("* disconnected")
	case realtime.EventReconnectAttempt:
		fmt.Printf("* reconnecting (attempt %d)\n", ev.Attempt)
	case realtime.EventReconnectFailed:
		fmt.Println("* reconnect failed; use /reconnect to try again")
	case realtime.EventCredentialInvalid:
		fmt.Println("* session expired; use /login to sign in again")
	case realtime.EventNewMessage:
		if ev.Message != nil {
			fmt.Printf("[%s] %s: %s\n", ev.ConversationID, senderName(ev), ev.Message.Content.Text)
		}
	case realtime.EventNewConversation:
		fmt.Printf("* %s started conversation %s\n", senderName(ev), ev.ConversationID)
	case realtime.EventPresenceChange:
		if ev.Online {
			fmt.Printf("* %s is online\n", ev.UserID)
		} else {
			fmt.Printf("* %s went offline\n", ev.UserID)
		}
	case realtime.EventTypingStarted:
		fmt.Printf("* %s is typing in %s\n", senderName(ev), ev.ConversationID)
	case realtime.EventMessageRead:
		fmt.Printf("* message %s read\n", ev.MessageID)
	case realtime.EventUnreadCount:
		fmt.Printf("* %d unread messages\n", ev.TotalUnread)
	case realtime.EventDeliveryFailed:
		fmt.Printf("! message to %s could not be delivered\n", ev.ConversationID)
	case realtime.EventFoodReserved:
		if ev.Reservation != nil {
			fmt.Printf("* %s reserved your listing %q\n", ev.Reservation.RequesterName, ev.Reservation.FoodTitle)
		}
	case realtime.EventFoodStatus:
		if ev.Listing != nil {
			fmt.Printf("* listing %q is now %s\n", ev.Listing.FoodTitle, ev.Listing.NewStatus)
		}
	}
}

func senderName(ev *realtime.Event) string {
	if ev.UserName != "" {
		return ev.UserName
	}
	return ev.UserID
}

// repl reads commands from stdin until /quit or the context ends. Plain
// text lines are sent to the current conversation.
func repl(ctx context.Context, stop context.CancelFunc, application *app.App) {
	mgr := application.Manager()
	current := ""

	fmt.Println("commands: /login /guest /logout /join /leave /switch /read /online /reconnect /focus /blur /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if current == "" {
				fmt.Println("! no conversation selected, use /join <id> first")
				continue
			}
			mgr.StartTyping(current)
			mgr.SendMessage(current, proto.MessageContent{Text: line})
			mgr.StopTyping(current)
			continue
		}

		fields := strings.Fields(line)
		cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		switch fields[0] {
		case "/quit":
			cancel()
			stop()
			return
		case "/login":
			if len(fields) != 3 {
				fmt.Println("usage: /login <email> <password>")
				break
			}
			if err := application.Login(cmdCtx, fields[1], fields[2]); err != nil {
				fmt.Printf("! login failed: %v\n", err)
			}
		case "/guest":
			if len(fields) != 2 {
				fmt.Println("usage: /guest <name>")
				break
			}
			if err := application.LoginGuest(cmdCtx, fields[1]); err != nil {
				fmt.Printf("! guest login failed: %v\n", err)
			}
		case "/logout":
			if err := application.Logout(cmdCtx); err != nil {
				fmt.Printf("! logout failed: %v\n", err)
			}
			current = ""
		case "/join":
			if len(fields) < 2 {
				fmt.Println("usage: /join <id> [title]")
				break
			}
			title := strings.Join(fields[2:], " ")
			if err := application.JoinConversation(cmdCtx, fields[1], title); err != nil {
				fmt.Printf("! join failed: %v\n", err)
				break
			}
			current = fields[1]
			fmt.Printf("* joined %s\n", current)
		case "/leave":
			if len(fields) != 2 {
				fmt.Println("usage: /leave <id>")
				break
			}
			if err := application.LeaveConversation(cmdCtx, fields[1]); err != nil {
				fmt.Printf("! leave failed: %v\n", err)
				break
			}
			if current == fields[1] {
				current = ""
			}
		case "/switch":
			if len(fields) != 2 {
				fmt.Println("usage: /switch <id>")
				break
			}
			current = fields[1]
		case "/read":
			if len(fields) != 2 || current == "" {
				fmt.Println("usage: /read <messageID> (with a conversation selected)")
				break
			}
			if err := application.MarkRead(cmdCtx, current, fields[1]); err != nil {
				fmt.Printf("! mark read failed: %v\n", err)
			}
		case "/online":
			snap := mgr.Info()
			fmt.Printf("* state=%s online=%d queued=%d joined=%v\n",
				snap.State, snap.OnlineUsers, snap.QueueDepth, snap.Joined)
		case "/reconnect":
			mgr.ForceReconnect()
		case "/focus":
			application.Notifier().SetFocused(true)
		case "/blur":
			application.Notifier().SetFocused(false)
		default:
			fmt.Printf("! unknown command %s\n", fields[0])
		}
		cancel()
	}
}
