package devgate

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hunghuyn2003-source/mall-messaging/internal/models"
	"github.com/hunghuyn2003-source/mall-messaging/internal/session"
	"github.com/hunghuyn2003-source/mall-messaging/internal/transport"
)

type Options struct {
	Secret string
}

type Server struct {
	App       *fiber.App
	store     *Store
	chatHub   *Hub
	notifyHub *Hub
	secret    string
	log       *zap.SugaredLogger

	pmu       sync.Mutex
	chatPolls map[string]*pollClient
	ntfyPolls map[string]*pollClient
}

func NewServer(opts Options, store *Store, log *zap.SugaredLogger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	s := &Server{
		App:       app,
		store:     store,
		chatHub:   NewHub(store, log),
		notifyHub: NewHub(store, log),
		secret:    opts.Secret,
		log:       log,
		chatPolls: make(map[string]*pollClient),
		ntfyPolls: make(map[string]*pollClient),
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", s.requireSession)
	api.Get("/chat/users", s.listUsers)
	api.Post("/chat/conversations/direct", s.directConversation)
	api.Get("/chat/conversations/:id/messages", s.messagesPage)
	api.Post("/notify", s.pushNotification)

	chat := app.Group("/rt/chat", s.requireSession)
	chat.Get("/ws", s.upgrade, websocket.New(s.chatWS))
	chat.Get("/poll", s.pollHandler(s.chatHub, s.chatPolls))
	chat.Post("/emit", s.emitHandler(s.chatHub, s.chatPolls))

	ntfy := app.Group("/rt/notifications", s.requireSession)
	ntfy.Get("/ws", s.upgrade, websocket.New(s.notifyWS))
	ntfy.Get("/poll", s.pollHandler(s.notifyHub, s.ntfyPolls))

	return s
}

func (s *Server) requireSession(c *fiber.Ctx) error {
	token := c.Cookies(session.CookieName)
	if token == "" {
		return fiber.ErrUnauthorized
	}
	claims, err := session.ParseAndValidate(s.secret, token)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	c.Locals("userID", claims.Subject)
	return c.Next()
}

func (s *Server) upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	me := c.Locals("userID").(string)
	out := make([]models.ChatUser, 0)
	for _, u := range s.store.Users() {
		if u.ID != me {
			out = append(out, u)
		}
	}
	return c.JSON(fiber.Map{"data": out})
}

func (s *Server) directConversation(c *fiber.Ctx) error {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.ErrBadRequest
	}
	me := c.Locals("userID").(string)
	conv, ok := s.store.DirectConversation(me, body.UserID)
	if !ok {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"data": conv})
}

func (s *Server) messagesPage(c *fiber.Ctx) error {
	convID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.ErrBadRequest
	}
	if _, ok := s.store.Conversation(convID); !ok {
		return fiber.ErrNotFound
	}
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 30)
	return c.JSON(s.store.MessagesPage(convID, page, limit))
}

// pushNotification broadcasts a payment reminder to every client attached to
// the notification namespace.
func (s *Server) pushNotification(c *fiber.Ctx) error {
	var n models.PaymentNotification
	if err := c.BodyParser(&n); err != nil {
		return fiber.ErrBadRequest
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifyHub.BroadcastAll(envelope(transport.EventPaymentNotification, &n))
	return c.JSON(fiber.Map{"data": n})
}

func (s *Server) chatWS(conn *websocket.Conn) {
	userID, _ := conn.Locals("userID").(string)
	newWSClient(userID, conn, s.chatHub).run()
}

func (s *Server) notifyWS(conn *websocket.Conn) {
	userID, _ := conn.Locals("userID").(string)
	newWSClient(userID, conn, s.notifyHub).run()
}

// pollClientFor keeps one long-poll session per user and namespace, creating
// and registering it on first use.
func (s *Server) pollClientFor(hub *Hub, reg map[string]*pollClient, userID string) *pollClient {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if pc, ok := reg[userID]; ok {
		return pc
	}
	pc := newPollClient(userID)
	reg[userID] = pc
	hub.Register(pc)
	return pc
}

func (s *Server) pollHandler(hub *Hub, reg map[string]*pollClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(string)
		cursor, _ := strconv.ParseInt(c.Query("cursor", "0"), 10, 64)
		waitSec := c.QueryInt("wait", 0)
		if waitSec > 30 {
			waitSec = 30
		}
		pc := s.pollClientFor(hub, reg, userID)
		total, events := pc.Events(cursor, time.Duration(waitSec)*time.Second)
		if events == nil {
			events = []*transport.Envelope{}
		}
		return c.JSON(fiber.Map{"cursor": total, "events": events})
	}
}

func (s *Server) emitHandler(hub *Hub, reg map[string]*pollClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("userID").(string)
		var env transport.Envelope
		if err := c.BodyParser(&env); err != nil {
			return fiber.ErrBadRequest
		}
		pc := s.pollClientFor(hub, reg, userID)
		hub.HandleEvent(pc, &env)
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
