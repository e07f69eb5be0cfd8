// Command chatterm is a terminal chat client for the mall dashboard's
// messaging core: pick a counterpart, resolve the direct conversation and
// chat over the realtime channel, with payment reminders arriving on the
// side.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hunghuyn2003-source/mall-messaging/internal/cache"
	"github.com/hunghuyn2003-source/mall-messaging/internal/config"
	"github.com/hunghuyn2003-source/mall-messaging/internal/logger"
	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/notify"
	"github.com/hunghuyn2003-source/mall-messaging/internal/restapi"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
	"github.com/hunghuyn2003-source/mall-messaging/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "optional config file")
	token := flag.String("token", os.Getenv("MALL_SESSION_TOKEN"), "session token")
	peer := flag.String("peer", "", "counterpart user id to chat with")
	flag.Parse()

	if *token == "" {
		log.Fatal("a session token is required (-token or MALL_SESSION_TOKEN)")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(logger.Config{Development: cfg.Debug})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer lg.Sync()

	sess, err := session.FromToken(*token)
	if err != nil {
		log.Fatalf("invalid session token: %v", err)
	}

	rest := restapi.New(restapi.Options{
		BaseURL:      cfg.Rest.BaseURL,
		Timeout:      cfg.RestTimeout,
		RetryMaxTime: cfg.RestRetryMax,
	}, sess, lg)

	ctx := context.Background()

	users, err := rest.ChatUsers(ctx)
	if err != nil {
		log.Fatalf("list chat users: %v", err)
	}
	counterpart, err := pickCounterpart(users, *peer)
	if err != nil {
		log.Fatal(err)
	}
	conv, err := rest.DirectConversation(ctx, counterpart.ID)
	if err != nil {
		log.Fatalf("resolve conversation: %v", err)
	}

	// One channel per namespace for the lifetime of the session; both are
	// torn down on exit.
	chatCh := transport.New(transport.Options{
		URL:               cfg.Realtime.ChatURL,
		DialTimeout:       cfg.DialTimeout,
		ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, sess, lg)
	defer chatCh.Close()

	notifyCh := transport.New(transport.Options{
		URL:               cfg.Realtime.NotifyURL,
		DialTimeout:       cfg.DialTimeout,
		ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, sess, lg)
	defer notifyCh.Close()

	msgCache := cache.New(sess, rest, chatCh, cache.Options{
		SendTimeout:  cfg.SendTimeout,
		TypingExpiry: cfg.TypingExpiry,
	}, lg)
	typer := cache.NewTyper(chatCh, cfg.TypingThrottle, cfg.TypingIdle)

	relay := notify.NewRelay(notify.NewFileStore(cfg.Notify.StorePath), lg)
	if err := relay.Restore(); err != nil {
		lg.Warnw("restore payment notification", "err", err)
	}
	if n := relay.Current(); n != nil {
		printNotification(n, "pending")
	}
	relay.OnArrive(func(n *models.PaymentNotification) {
		printNotification(n, "new")
	})

	msgCache.OnWarning(func(msg string) {
		fmt.Printf("\n!! %s\n> ", msg)
	})

	chatCh.SetHandlers(transport.Handlers{
		OnConnect: func() {
			chatCh.JoinConversation(conv.ID)
		},
		OnNewMessage: func(m *models.Message) {
			if msgCache.AppendIncoming(m) {
				printMessage(m)
			}
		},
		OnMessageSent:         msgCache.ReconcileConfirmed,
		OnMessageDeleted:      msgCache.RemoveMessage,
		OnConversationUpdated: msgCache.ApplyConversationUpdate,
		OnTyping: func(conversationID int64, userID string, typing bool) {
			msgCache.SetTyping(conversationID, userID, typing)
			if typing && conversationID == msgCache.ActiveID() {
				fmt.Printf("\n%s is typing...\n> ", counterpart.Name)
			}
		},
	})
	notifyCh.SetHandlers(transport.Handlers{
		OnNotification: relay.Handle,
	})

	msgCache.SetActive(conv)
	if _, err := msgCache.LoadPage(ctx, conv.ID, 1, cfg.Chat.PageSize); err != nil {
		lg.Warnw("load history", "err", err)
	}
	for _, m := range msgCache.Messages() {
		printMessage(m)
	}

	if err := chatCh.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := notifyCh.Connect(); err != nil {
		log.Fatalf("connect notifications: %v", err)
	}

	fmt.Printf("Chatting with %s (%s). /paid marks the reminder resolved, /quit exits.\n", counterpart.Name, counterpart.Role)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/paid":
			if err := relay.Resolve(); err != nil {
				lg.Warnw("resolve notification", "err", err)
			} else {
				fmt.Println("payment reminder dismissed")
			}
			continue
		}

		typer.Tick(conv.ID)
		typer.Stop()
		if _, err := msgCache.SendOptimistic(line); err != nil {
			fmt.Printf("!! %v\n", err)
		}
		if e := chatCh.LastError(); e != "" {
			fmt.Printf("!! %s\n", e)
		}
	}
}

func pickCounterpart(users []models.ChatUser, peer string) (*models.ChatUser, error) {
	if len(users) == 0 {
		return nil, fmt.Errorf("no chat counterparts available")
	}
	if peer == "" {
		fmt.Println("Available counterparts:")
		for _, u := range users {
			fmt.Printf("  %-12s %s (%s)\n", u.ID, u.Name, u.Role)
		}
		return nil, fmt.Errorf("pick one with -peer <id>")
	}
	for i := range users {
		if users[i].ID == peer {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("unknown counterpart %q", peer)
}

func printMessage(m *models.Message) {
	who := m.Sender.Name
	if who == "" {
		who = m.SenderID
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
}

func printNotification(n *models.PaymentNotification, kind string) {
	fmt.Printf("\n== %s payment reminder: %s: %s (%02d/%d)\n", kind, n.Title, n.Message, n.Month, n.Year)
}
