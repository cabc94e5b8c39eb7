package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"postagent-go/internal/apperr"
)

// DefaultAlertCooldown is the minimum gap between two login alerts.
const DefaultAlertCooldown = 30 * time.Minute

// Config configures the operator bot.
type Config struct {
	BotToken string
	// ChatID receives alerts. Zero disables alerts but keeps the bot commands.
	ChatID int64
	// LoginURL is sent in alerts and in reply to /login.
	LoginURL string
	Cooldown time.Duration
	// APIEndpoint overrides the Bot API endpoint format, for tests.
	APIEndpoint string
}

// Service provides methods for interacting with the Telegram Bot API.
type Service struct {
	logger   zerolog.Logger
	bot      *tgbotapi.BotAPI
	chatID   int64
	loginURL string
	cooldown time.Duration
	now      func() time.Time

	mu        sync.Mutex
	lastAlert time.Time
}

// NewService creates a new Telegram Service.
func NewService(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("%w: telegram bot token is required", apperr.ErrValidation)
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultAlertCooldown
	}

	logger = logger.With().Str("component", "telegram").Logger()
	logger.Info().Str("account", bot.Self.UserName).Msg("Authorized on telegram")

	return &Service{
		logger:   logger,
		bot:      bot,
		chatID:   cfg.ChatID,
		loginURL: cfg.LoginURL,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}, nil
}

// SendMessage sends a text message to a given chat ID.
func (s *Service) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := s.bot.Send(msg)
	return err
}

// AlertLoginRequired tells the operator chat that posting is blocked until
// someone logs in again. Alerts within the cooldown are dropped.
func (s *Service) AlertLoginRequired(ctx context.Context, cause error) error {
	if s.chatID == 0 {
		return nil
	}

	s.mu.Lock()
	now := s.now()
	if !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.cooldown {
		s.mu.Unlock()
		return nil
	}
	s.lastAlert = now
	s.mu.Unlock()

	text := fmt.Sprintf("Posting is blocked (%s). A manual login is required.", apperr.KindOf(cause))
	if s.loginURL != "" {
		text += "\nLog in at " + s.loginURL
	}
	if err := s.SendMessage(s.chatID, text); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	s.logger.Info().Int64("chat_id", s.chatID).Msg("Login alert sent")
	return nil
}

// StartPolling receives bot commands until ctx is done.
func (s *Service) StartPolling(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := s.bot.GetUpdatesChan(u)
	defer s.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			s.handleCommand(update.Message)
		}
	}
}

func (s *Service) handleCommand(message *tgbotapi.Message) {
	var reply string
	switch message.Command() {
	case "start":
		reply = fmt.Sprintf("This chat id is %d. Set it as telegram.chat_id to receive alerts.", message.Chat.ID)
	case "login":
		if s.loginURL == "" {
			reply = "No login URL is configured."
		} else {
			reply = "Log in at " + s.loginURL
		}
	default:
		return
	}

	if err := s.SendMessage(message.Chat.ID, reply); err != nil {
		s.logger.Error().Err(err).Str("command", message.Command()).Msg("Failed to answer command")
	}
}
