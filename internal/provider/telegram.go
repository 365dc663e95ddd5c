package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "fetchrelay/pkg/logx"
)

// TelegramDialer opens Conn values over the Telegram Bot API, one bot token
// per automation account, all talking to the same provider bot.
type TelegramDialer struct {
	Log         logx.Logger
	BotUsername string
	PollTimeout time.Duration
}

func (d *TelegramDialer) Dial(ctx context.Context, token, name string) (Conn, error) {
	timeout := d.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("account", name))

	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram poll error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, MapTransportError(err)
	}

	chat, err := b.ChatByUsername(d.BotUsername)
	if err != nil {
		return nil, MapTransportError(err)
	}

	c := &telegramConn{
		log:   log,
		bot:   b,
		chat:  chat,
		inbox: make(chan Message, 32),
	}
	b.Handle(tele.OnText, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil || m.Chat == nil || m.Chat.ID != chat.ID {
			return nil
		}
		c.push(fromTeleMessage(m))
		return nil
	})

	go func() {
		b.Start()
		c.connected.Store(false)
	}()
	c.connected.Store(true)
	return c, nil
}

type telegramConn struct {
	log  logx.Logger
	bot  *tele.Bot
	chat *tele.Chat

	inbox     chan Message
	connected atomic.Bool
	stopOnce  sync.Once
}

func (c *telegramConn) Connected() bool { return c.connected.Load() }

func (c *telegramConn) push(m Message) {
	// Never block the poll loop; a full inbox drops the oldest message.
	select {
	case c.inbox <- m:
	default:
		select {
		case <-c.inbox:
		default:
		}
		select {
		case c.inbox <- m:
		default:
		}
	}
}

func (c *telegramConn) SendText(ctx context.Context, text string) error {
	_ = ctx
	if _, err := c.bot.Send(c.chat, text); err != nil {
		return MapTransportError(err)
	}
	return nil
}

// Click presses a reply-keyboard button by sending its label back, which is
// how keyboard presses travel over the Bot API.
func (c *telegramConn) Click(ctx context.Context, b Button) error {
	return c.SendText(ctx, b.Label)
}

func (c *telegramConn) Next(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m := <-c.inbox:
		return m, nil
	}
}

func (c *telegramConn) Close() error {
	c.stopOnce.Do(func() {
		c.connected.Store(false)
		// Stop is expected to be fast; run it async so shutdown stays snappy
		// even when a long-poll is in flight.
		go c.bot.Stop()
	})
	return nil
}

func fromTeleMessage(m *tele.Message) Message {
	out := Message{Text: m.Text}
	if m.ReplyMarkup != nil {
		for _, row := range m.ReplyMarkup.ReplyKeyboard {
			for _, b := range row {
				out.Buttons = append(out.Buttons, Button{Label: b.Text})
			}
		}
		for _, row := range m.ReplyMarkup.InlineKeyboard {
			for _, b := range row {
				out.Buttons = append(out.Buttons, Button{Label: b.Text})
			}
		}
	}
	return out
}

// floodWaitBuffer pads provider-reported waits to absorb clock skew.
const floodWaitBuffer = 5 * time.Second

// MapTransportError converts telebot errors into the closed TransportError
// taxonomy. Unknown errors come back as TransportUnhandled.
func MapTransportError(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &TransportError{
			Kind:       TransportFloodWait,
			RetryAfter: time.Duration(flood.RetryAfter)*time.Second + floodWaitBuffer,
			Err:        err,
		}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Description)
		switch {
		case strings.Contains(desc, "deactivated"):
			return &TransportError{Kind: TransportDeactivated, Err: err}
		case strings.Contains(desc, "expired"):
			return &TransportError{Kind: TransportExpired, Err: err}
		case strings.Contains(desc, "blocked"):
			return &TransportError{Kind: TransportBlocked, Err: err}
		case strings.Contains(desc, "not enough rights"), strings.Contains(desc, "have no rights"):
			return &TransportError{Kind: TransportWriteForbidden, Err: err}
		case apiErr.Code == 401:
			return &TransportError{Kind: TransportAuthKey, Err: err}
		default:
			return &TransportError{Kind: TransportRPC, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: TransportTimeoutConnect, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: TransportTimeoutConnect, Err: err}
	}

	return &TransportError{Kind: TransportUnhandled, Err: err}
}
