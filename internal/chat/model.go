package chat

import "github.com/vatadvisor/usage/internal/usage"

type SendMessageRequest struct {
	ConversationID string `json:"conversationId" validate:"omitempty,max=64"`
	Message        string `json:"message" validate:"required,max=4000"`
}

type SendMessageResponse struct {
	Reply string               `json:"reply"`
	Usage *usage.ConsumeResult `json:"usage"`
}
