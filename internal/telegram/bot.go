// Package telegram answers photos sent to a Telegram bot with the predicted
// waste category.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Brownie44l1/waste-api/internal/classifier"
	"github.com/Brownie44l1/waste-api/internal/handlers"
)

const helpText = "Send me a photo of a piece of waste and I will tell you which bin it goes in: compost, paper, recycle or trash."

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api        API
	classifier classifier.Classifier
	logger     *zap.Logger
	client     *http.Client
	maxBytes   int64
}

func New(api API, c classifier.Classifier, maxBytes int64, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &Bot{
		api:        api,
		classifier: c,
		logger:     logger,
		client:     &http.Client{Timeout: 30 * time.Second},
		maxBytes:   maxBytes,
	}
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context, pollTimeout int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil {
				continue
			}
			b.handle(ctx, upd.Message)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	text := b.Reply(ctx, msg)
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(reply); err != nil {
		b.logger.Error("telegram send failed", zap.Error(err), zap.Int64("chat", msg.Chat.ID))
	}
}

// Reply computes the answer for one incoming message.
func (b *Bot) Reply(ctx context.Context, msg *tgbotapi.Message) string {
	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			return helpText
		case "labels":
			return "Categories: " + strings.Join(b.classifier.Labels(), ", ")
		}
		return "Unknown command. " + helpText
	}

	fileID, name, ok := attachment(msg)
	if !ok {
		return helpText
	}

	if _, err := b.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("chat action failed", zap.Error(err))
	}

	data, err := b.download(ctx, fileID)
	if err != nil {
		b.logger.Error("telegram download failed", zap.Error(err), zap.String("file_id", fileID))
		return "Sorry, I could not download that file."
	}

	pred, err := b.classifier.Classify(ctx, name, data)
	if err != nil {
		status, text := handlers.StatusFor(err)
		if status >= http.StatusInternalServerError {
			b.logger.Error("telegram classification failed", zap.Error(err))
		}
		return "Sorry: " + strings.ToLower(text) + "."
	}

	b.logger.Info("telegram classified",
		zap.Int64("chat", msg.Chat.ID),
		zap.String("category", pred.Category),
		zap.Float32("confidence", pred.Confidence),
	)
	return fmt.Sprintf("%s (%.0f%% sure)", pred.Category, pred.Confidence*100)
}

// attachment picks the largest photo size, or an image sent as a file.
func attachment(msg *tgbotapi.Message) (fileID, name string, ok bool) {
	if len(msg.Photo) > 0 {
		ph := msg.Photo[len(msg.Photo)-1]
		return ph.FileID, "photo.jpg", true
	}
	if d := msg.Document; d != nil {
		ext := strings.ToLower(path.Ext(d.FileName))
		if strings.HasPrefix(d.MimeType, "image/") || ext == ".heic" || ext == ".heif" {
			return d.FileID, d.FileName, true
		}
	}
	return "", "", false
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > b.maxBytes {
		return nil, fmt.Errorf("file larger than %d bytes", b.maxBytes)
	}
	return data, nil
}
