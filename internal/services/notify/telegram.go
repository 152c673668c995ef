package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"inspector/internal/logger"
	"inspector/internal/services/events"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink alerts a chat about saved defect records and fatal pipeline
// errors. Everything else is ignored.
type TelegramSink struct {
	api    sender
	chatID int64
	logger *logger.Logger
}

func NewTelegramSink(token string, chatID int64, logger *logger.Logger) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logger.Info("🤖 Telegram alerts via %s to chat %d", api.Self.UserName, chatID)
	return newTelegramSink(api, chatID, logger), nil
}

func newTelegramSink(api sender, chatID int64, logger *logger.Logger) *TelegramSink {
	return &TelegramSink{api: api, chatID: chatID, logger: logger}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Handle(e events.Event) {
	var msg tgbotapi.Chattable

	switch e.Kind {
	case events.RecordSaved:
		if defect, _ := e.Fields["defect_detected"].(bool); !defect {
			return
		}
		caption := defectCaption(e)
		if path, _ := e.Fields["image_path"].(string); path != "" {
			photo := tgbotapi.NewPhoto(s.chatID, tgbotapi.FilePath(path))
			photo.Caption = caption
			msg = photo
		} else {
			msg = tgbotapi.NewMessage(s.chatID, caption)
		}
	case events.Fatal:
		msg = tgbotapi.NewMessage(s.chatID, fmt.Sprintf("🛑 Pipeline stopped (%s): %s", e.Stage, e.Cause))
	default:
		return
	}

	if _, err := s.api.Send(msg); err != nil {
		s.logger.Warning("🤖 Telegram alert for frame %d failed: %v", e.Seq, err)
	}
}

func defectCaption(e events.Event) string {
	var b strings.Builder
	defectType, _ := e.Fields["defect_type"].(string)
	confidence, _ := e.Fields["confidence"].(float64)
	fmt.Fprintf(&b, "⚠️ Defect detected: %s (%.2f)\n", defectType, confidence)
	fmt.Fprintf(&b, "Source %s, frame %d", e.SourceID, e.Seq)
	if id, ok := e.Fields["record_id"].(int64); ok {
		fmt.Fprintf(&b, ", record #%d", id)
	}
	return b.String()
}
