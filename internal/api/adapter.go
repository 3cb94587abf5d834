package api

import "github.com/keyhaven/messaging-service/internal/service"

// sendMessagePayload tolerates the field aliases older marketplace clients
// still send. Normalization happens here and only here; the conversation
// service sees one typed contract.
type sendMessagePayload struct {
	ThreadID       string `json:"thread_id"`
	ThreadIDAlt    string `json:"threadId"`
	ConversationID string `json:"conversation_id"`

	RecipientID    string `json:"recipient_id"`
	RecipientIDAlt string `json:"recipientId"`
	ToUserID       string `json:"to_user_id"`
	ReceiverID     string `json:"receiver_id"`

	PropertyID    string `json:"property_id"`
	PropertyIDAlt string `json:"propertyId"`
	ListingID     string `json:"listing_id"`

	Text    string `json:"text"`
	Message string `json:"message"`
	Content string `json:"content"`
}

func (p *sendMessagePayload) normalize() service.SendMessageRequest {
	return service.SendMessageRequest{
		ThreadID:    firstNonEmpty(p.ThreadID, p.ThreadIDAlt, p.ConversationID),
		RecipientID: firstNonEmpty(p.RecipientID, p.RecipientIDAlt, p.ToUserID, p.ReceiverID),
		PropertyID:  firstNonEmpty(p.PropertyID, p.PropertyIDAlt, p.ListingID),
		Text:        firstNonEmpty(p.Text, p.Message, p.Content),
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
