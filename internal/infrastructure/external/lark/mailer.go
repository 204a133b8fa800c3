package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
)

// ChannelName identifies Lark deliveries in the notification log
const ChannelName = "lark"

// Mailer delivers approver notifications as rich-text Lark messages
// addressed by email
type Mailer struct {
	client *SDKClient
	locale string
	logger *zap.Logger
}

// NewMailer creates a Lark notifier. locale defaults to en_us.
func NewMailer(client *SDKClient, locale string, logger *zap.Logger) *Mailer {
	if locale == "" {
		locale = "en_us"
	}
	return &Mailer{client: client, locale: locale, logger: logger}
}

// Channel implements port.Notifier
func (m *Mailer) Channel() string {
	return ChannelName
}

// Notify implements port.Notifier
func (m *Mailer) Notify(ctx context.Context, msg *port.Notification) error {
	if msg.Recipient == "" {
		return fmt.Errorf("recipient cannot be empty")
	}

	content, err := buildPostContent(m.locale, msg)
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("email").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(msg.Recipient).
			MsgType("post").
			Content(content).
			Build()).
		Build()

	resp, err := m.client.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		m.logger.Error("Lark message API returned failure",
			zap.String("recipient", msg.Recipient),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Debug("Lark message sent",
		zap.String("message_id", messageID),
		zap.String("recipient", msg.Recipient))
	return nil
}

type postElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

type postBody struct {
	Title   string          `json:"title"`
	Content [][]postElement `json:"content"`
}

// buildPostContent renders one paragraph per body line and one line of
// action links
func buildPostContent(locale string, msg *port.Notification) (string, error) {
	var paragraphs [][]postElement
	for _, line := range strings.Split(strings.TrimRight(msg.Body, "\n"), "\n") {
		paragraphs = append(paragraphs, []postElement{{Tag: "text", Text: line}})
	}

	if len(msg.Links) > 0 {
		links := make([]postElement, 0, len(msg.Links)*2)
		for i, link := range msg.Links {
			if i > 0 {
				links = append(links, postElement{Tag: "text", Text: " | "})
			}
			links = append(links, postElement{Tag: "a", Text: link.Label, Href: link.URL})
		}
		paragraphs = append(paragraphs, links)
	}

	data, err := json.Marshal(map[string]postBody{
		locale: {Title: msg.Subject, Content: paragraphs},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal post content: %w", err)
	}
	return string(data), nil
}
