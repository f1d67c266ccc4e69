package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/opsboard/opsboard-api/internal/config"
	"go.uber.org/zap"
)

// Sender delivers replies to a chat
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// BotSender replies through the Bot API
type BotSender struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewBotSender authenticates the bot token against the Bot API
func NewBotSender(cfg *config.TelegramConfig, logger *zap.Logger) (*BotSender, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram.botToken is required when telegram is enabled")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Info("Telegram bot connected", zap.String("username", bot.Self.UserName))
	return &BotSender{bot: bot, logger: logger.Named("telegram")}, nil
}

func (s *BotSender) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		s.logger.Error("Telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
