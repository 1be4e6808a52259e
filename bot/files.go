package bot

import (
	"context"
	"errors"
	"io"
	"sync"

	tele "gopkg.in/telebot.v4"
)

// fileFetcher implements the engine's Files port using the Telegram file API.
type fileFetcher struct {
	mu  sync.RWMutex
	bot *tele.Bot
}

func (f *fileFetcher) bind(bot *tele.Bot) {
	f.mu.Lock()
	f.bot = bot
	f.mu.Unlock()
}

func (f *fileFetcher) Fetch(_ context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.RLock()
	bot := f.bot
	f.mu.RUnlock()
	if bot == nil {
		return nil, errors.New("bot: file fetcher not bound yet")
	}
	return bot.File(&tele.File{FileID: fileID})
}
