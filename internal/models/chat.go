package models

import "time"

// Chat is the conversation between one buyer and the seller of one product.
type Chat struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"productId"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

func (c *Chat) IsParticipant(accountID string) bool {
	return accountID == c.BuyerID || accountID == c.SellerID
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageOffer MessageType = "offer"
)

type ChatMessage struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chatId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"messageType"`
	CreatedAt time.Time   `json:"createdAt"`
}
