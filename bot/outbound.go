package bot

import (
	"errors"
	"sync"

	tele "gopkg.in/telebot.v4"

	tgsender "github.com/fieldops/reportbot/core/telegram/sender"
	"github.com/fieldops/reportbot/engine"
)

const (
	btnShareLocation = "📍 Bagikan Lokasi"
	btnSkipLocation  = "lewati"
)

// outbound renders engine messages into telebot sends, routed through the
// async dispatcher. The engine may call Send while holding its per-user lock,
// so nothing here touches the network directly.
type outbound struct {
	mu   sync.RWMutex
	bot  *tele.Bot
	disp *tgsender.Dispatcher
}

// bind attaches the live bot and dispatcher once the transport is built.
func (o *outbound) bind(bot *tele.Bot, disp *tgsender.Dispatcher) {
	o.mu.Lock()
	o.bot = bot
	o.disp = disp
	o.mu.Unlock()
}

func (o *outbound) Send(userID int64, msg engine.Message) error {
	o.mu.RLock()
	bot, disp := o.bot, o.disp
	o.mu.RUnlock()
	if bot == nil || disp == nil {
		return errors.New("bot: outbound not bound yet")
	}

	text := msg.Text
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown}
	if markup := renderMarkup(msg); markup != nil {
		opts.ReplyMarkup = markup
	}

	recipient := &tele.User{ID: userID}
	return disp.Enqueue("send_message", userID, func() error {
		_, err := bot.Send(recipient, text, opts)
		return err
	})
}

func renderMarkup(msg engine.Message) *tele.ReplyMarkup {
	switch {
	case msg.RequestLocation:
		markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
		markup.Reply(
			tele.Row{markup.Location(btnShareLocation)},
			tele.Row{markup.Text(btnSkipLocation)},
		)
		return markup
	case len(msg.Inline) > 0:
		markup := &tele.ReplyMarkup{}
		rows := make([]tele.Row, 0, len(msg.Inline))
		for _, line := range msg.Inline {
			row := make(tele.Row, 0, len(line))
			for _, b := range line {
				row = append(row, markup.Data(b.Text, b.Key, b.Data))
			}
			rows = append(rows, row)
		}
		markup.Inline(rows...)
		return markup
	case len(msg.ReplyRows) > 0:
		markup := &tele.ReplyMarkup{ResizeKeyboard: true}
		rows := make([]tele.Row, 0, len(msg.ReplyRows))
		for _, line := range msg.ReplyRows {
			row := make(tele.Row, 0, len(line))
			for _, label := range line {
				row = append(row, markup.Text(label))
			}
			rows = append(rows, row)
		}
		markup.Reply(rows...)
		return markup
	case msg.RemoveKeyboard:
		return &tele.ReplyMarkup{RemoveKeyboard: true}
	default:
		return nil
	}
}
