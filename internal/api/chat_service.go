package api

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/penguinchat/penguinchat/internal/bus"
	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/store"
)

// ChatService serves the local view of the wallet's conversations.
type ChatService struct {
	wallet string
	store  *store.Store
	bus    *bus.Bus
	log    *zap.Logger
}

// NewChatService creates a chat service backed by the store.
func NewChatService(wallet string, st *store.Store, b *bus.Bus, log *zap.Logger) *ChatService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{wallet: wallet, store: st, bus: b, log: log}
}

func (s *ChatService) Register(r gin.IRoutes) {
	r.GET("/chats", s.listChats)
	r.GET("/chats/:chatId/messages", s.listMessages)
	r.POST("/chats/:chatId/read", s.markRead)
	r.PUT("/names/:address", s.setName)
	r.GET("/events", s.watch)
}

func (s *ChatService) listChats(c *gin.Context) {
	chats, err := s.store.UserChats(s.wallet)
	if err != nil {
		fail(c, err, "list chats")
		return
	}
	if chats == nil {
		chats = []chat.Summary{}
	}
	ok(c, chats)
}

func (s *ChatService) listMessages(c *gin.Context) {
	chatID := c.Param("chatId")
	if _, err := chat.ParseChatID(chatID); err != nil {
		badRequest(c, err)
		return
	}
	msgs, err := s.store.MessagesByChat(s.wallet, chatID)
	if err != nil {
		fail(c, err, "list messages")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	ok(c, msgs)
}

func (s *ChatService) markRead(c *gin.Context) {
	chatID := c.Param("chatId")
	if _, err := chat.ParseChatID(chatID); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.store.MarkChatRead(s.wallet, chatID); err != nil {
		fail(c, err, "mark read")
		return
	}
	ok(c, nil)
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *ChatService) setName(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	addr := c.Param("address")
	if addr == "" {
		badRequest(c, errors.New("address is required"))
		return
	}
	if err := s.store.SetDisplayName(addr, req.Name); err != nil {
		fail(c, err, "set display name")
		return
	}
	ok(c, gin.H{"address": addr, "name": s.store.DisplayName(addr)})
}

// watch streams bus events to the client as server-sent events until the
// client goes away.
func (s *ChatService) watch(c *gin.Context) {
	prefix := c.DefaultQuery("prefix", "")
	ch, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Kind, gin.H{"timestamp": evt.Timestamp.UnixMilli(), "payload": evt.Payload})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
