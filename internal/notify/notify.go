// Package notify delivers job failure alerts to a Telegram chat.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/winmix/engine/models"
)

// Telegram sends failure messages to a fixed chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegram creates the notifier. It fails when the token is rejected by
// the Telegram API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "notify").Logger(),
	}, nil
}

// JobFailed posts a failure summary. Delivery errors are logged and dropped;
// alerting never fails a job run twice.
func (t *Telegram) JobFailed(_ context.Context, job *models.ScheduledJob, runErr error) {
	text := fmt.Sprintf("Job %q (%s) failed: %v", job.JobName, job.JobType, runErr)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Error().Err(err).Str("job_id", job.ID).Msg("failure alert not delivered")
	}
}

// Noop drops all notifications. Used when no Telegram credentials are
// configured.
type Noop struct{}

func (Noop) JobFailed(context.Context, *models.ScheduledJob, error) {}
