package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/penguinchat/penguinchat/internal/chat"
	"github.com/penguinchat/penguinchat/internal/link"
)

// MessageService sends messages through the relay link.
type MessageService struct {
	wallet string
	link   *link.Link
}

// NewMessageService creates a message service for wallet.
func NewMessageService(wallet string, l *link.Link) *MessageService {
	return &MessageService{wallet: wallet, link: l}
}

// SendRequest is the body of POST /messages. Either Peer or ChatID names the
// conversation; a peer alone opens chat_<wallet>_<peer>.
type SendRequest struct {
	Peer     string         `json:"peer,omitempty"`
	ChatID   string         `json:"chatId,omitempty"`
	Text     string         `json:"text"`
	Type     chat.Type      `json:"type,omitempty"`
	ImageURL string         `json:"imageUrl,omitempty"`
	GiftData *chat.GiftData `json:"giftData,omitempty"`
}

func (s *MessageService) Register(r gin.IRoutes) {
	r.POST("/messages", s.send)
}

func (r SendRequest) chatID(wallet string) (string, error) {
	if r.ChatID != "" {
		p, err := chat.ParseChatID(r.ChatID)
		if err != nil {
			return "", err
		}
		if !p.Has(wallet) {
			return "", chat.ErrNotParticipant
		}
		return r.ChatID, nil
	}
	if r.Peer == "" {
		return "", errors.New("peer or chatId is required")
	}
	if r.Peer == wallet {
		return "", errors.New("cannot message yourself")
	}
	return chat.NewChatID(wallet, r.Peer), nil
}

func (s *MessageService) send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chatID, err := req.chatID(s.wallet)
	if err != nil {
		badRequest(c, err)
		return
	}
	if req.Text == "" && req.GiftData == nil && req.ImageURL == "" {
		badRequest(c, errors.New("text is required"))
		return
	}
	typ := req.Type
	if typ == "" {
		switch {
		case req.GiftData != nil:
			typ = chat.TypeGift
		case req.ImageURL != "":
			typ = chat.TypeImage
		default:
			typ = chat.TypeText
		}
	}

	m, err := s.link.Send(c.Request.Context(), chat.Message{
		Text:     req.Text,
		ChatID:   chatID,
		Type:     typ,
		ImageURL: req.ImageURL,
		GiftData: req.GiftData,
	})
	if err != nil {
		// The message is stored as failed either way; report it with the error.
		c.JSON(statusFor(err), Response{Success: false, Message: "send failed", Error: err.Error(), Data: m})
		return
	}
	ok(c, m)
}
