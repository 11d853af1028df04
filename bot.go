// Package renamebot is a Telegram bot that renames files with a sequence number of the user
// and sends them back with a thumbnail taken from a video frame.
package renamebot

import (
	"context"
	"net/http"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	tele "gopkg.in/telebot.v4"
)

const errorReplyTimeout = 10 * time.Second

// Bot receives updates from Telegram with long polling and passes them to the [Processor].
type Bot struct {
	tbot *tele.Bot
	proc *Processor
	tr   Transport
	msgs MessageProvider
	log  Logger
	metr *metrics

	ctx            context.Context
	handlerTimeout time.Duration
}

// New creates the bot with optional options.
func New(ctx context.Context, token string, optsFuncs ...func(*Options)) (*Bot, error) {
	var opts Options
	for _, f := range optsFuncs {
		f(&opts)
	}
	return NewWithOptions(ctx, token, opts)
}

// NewWithOptions creates the bot with options.
// Provided context is a parent for contexts of handlers.
func NewWithOptions(ctx context.Context, token string, opts Options) (*Bot, error) {
	if token == "" {
		return nil, errm.New("token cannot be empty")
	}
	opts, err := prepareOpts(opts)
	if err != nil {
		return nil, errm.Wrap(err, "prepare opts")
	}

	b := &Bot{
		msgs:           opts.Msgs,
		log:            opts.Logger,
		metr:           opts.metrics,
		ctx:            lang.If(ctx != nil, ctx, context.Background()),
		handlerTimeout: opts.Config.HandlerTimeout,
	}

	tbot, err := tele.NewBot(tele.Settings{
		URL:    opts.Config.APIURL,
		Token:  token,
		Poller: tele.NewMiddlewarePoller(&tele.LongPoller{Timeout: opts.Config.LPTimeout}, b.middleware),
		Client: &http.Client{Timeout: opts.Config.RequestTimeout},
		OnError: func(err error, c tele.Context) {
			var chatID int64
			if c != nil && c.Chat() != nil {
				chatID = c.Chat().ID
			}
			b.metr.incError(MetricsErrorTelegramAPI)
			b.log.Error("error callback", "error", err, "chat_id", chatID)
		},
		Verbose:     opts.Config.Debug && !opts.Config.TestMode,
		Offline:     opts.Config.TestMode,
		Synchronous: !opts.Config.Concurrent,
	})
	if err != nil {
		return nil, errm.Wrap(err, "new telebot")
	}
	b.tbot = tbot

	if opts.Transport == nil {
		opts.Transport = &teleTransport{bot: tbot}
	}
	b.tr = opts.Transport
	b.proc = newProcessor(opts)

	b.handle(handlerStart, startCommand, func(ctx context.Context, _ tele.Context, req Request) error {
		return b.proc.HandleStart(ctx, req)
	})
	b.handle(handlerClear, clearCommand, func(ctx context.Context, _ tele.Context, req Request) error {
		return b.proc.HandleClear(ctx, req)
	})

	fileHandler := func(ctx context.Context, c tele.Context, req Request) error {
		return b.proc.HandleFile(ctx, req, attachmentFromMessage(c.Message()))
	}
	b.handle(handlerFile, tele.OnDocument, fileHandler)
	b.handle(handlerFile, tele.OnVideo, fileHandler)
	// Animation (GIF) is delivered with a document too, telebot routes it to OnAnimation first
	b.handle(handlerFile, tele.OnAnimation, fileHandler)

	// Telebot calls OnMedia for every media without a specific handler
	b.handle(handlerMedia, tele.OnMedia, func(ctx context.Context, _ tele.Context, req Request) error {
		return b.proc.HandleFile(ctx, req, nil)
	})

	return b, nil
}

// Start starts the bot in a separate goroutine.
// Don't forget to call Stop() to gracefully shutdown the bot.
func (b *Bot) Start() {
	b.log.Info("bot is starting")
	lang.Go(b.log, b.tbot.Start)
}

// Stop gracefully shuts the poller down.
func (b *Bot) Stop() {
	b.log.Info("bot is stopping")
	b.tbot.Stop()
}

// Bot returns the underlying *tele.Bot.
func (b *Bot) Bot() *tele.Bot {
	return b.tbot
}

// Processor returns the processor of updates.
func (b *Bot) Processor() *Processor {
	return b.proc
}

type handlerFunc func(ctx context.Context, c tele.Context, req Request) error

func (b *Bot) handle(name string, endpoint any, f handlerFunc) {
	b.tbot.Handle(endpoint, func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || c.Chat() == nil {
			b.log.Warn("skip update without sender", "handler", name, "update_id", c.Update().ID)
			return nil
		}
		req := Request{
			UserID:       sender.ID,
			ChatID:       c.Chat().ID,
			LanguageCode: sender.LanguageCode,
		}

		ctx, cancel := context.WithTimeout(b.ctx, b.handlerTimeout)
		defer cancel()

		start := time.Now()
		err := b.run(ctx, c, req, f)
		b.metr.observeHandlerDuration(name, time.Since(start))

		if err != nil {
			b.handleError(req, err, "handler", name)
		}

		return nil
	})
}

func (b *Bot) run(ctx context.Context, c tele.Context, req Request, f handlerFunc) (err error) {
	defer lang.RecoverWithErrAndStack(b.log, &err)
	return f(ctx, c, req)
}

func (b *Bot) handleError(req Request, err error, fields ...any) {
	fields = req.fields(append(fields, "error", err)...)

	if IsBlockedError(err) {
		b.metr.incError(MetricsErrorBotBlocked)
		b.log.Info("bot is blocked by user", fields...)
		return
	}

	b.metr.incError(MetricsErrorHandler)
	b.log.Error("cannot handle update", fields...)

	// Handler context can be already expired
	ctx, cancel := context.WithTimeout(b.ctx, errorReplyTimeout)
	defer cancel()

	if sendErr := b.tr.Send(ctx, req.ChatID, b.msgs.Messages(req.LanguageCode).GeneralError()); sendErr != nil {
		b.log.Error("failed to send error message", req.fields("error", sendErr)...)
	}
}

func (b *Bot) middleware(upd *tele.Update) bool {
	defer lang.Recover(b.log)

	b.metr.incUpdate()

	if upd.MyChatMember != nil {
		if lang.Deref(upd.MyChatMember.NewChatMember).Role == tele.Kicked {
			b.log.Warn("bot is blocked",
				"user_id", lang.Deref(upd.MyChatMember.Sender).ID,
				"username", lang.Deref(upd.MyChatMember.Sender).Username,
				"old_role", lang.Deref(upd.MyChatMember.OldChatMember).Role,
				"new_role", lang.Deref(upd.MyChatMember.NewChatMember).Role)

			return false
		}
		if lang.Deref(upd.MyChatMember.OldChatMember).Role == tele.Kicked {
			b.log.Info("bot is unblocked",
				"user_id", lang.Deref(upd.MyChatMember.Sender).ID,
				"username", lang.Deref(upd.MyChatMember.Sender).Username,
				"old_role", lang.Deref(upd.MyChatMember.OldChatMember).Role,
				"new_role", lang.Deref(upd.MyChatMember.NewChatMember).Role)

			return false
		}
	}

	b.logUpdate(upd)

	return true
}

func (b *Bot) logUpdate(upd *tele.Update) {
	sender := getSender(upd)
	if sender == nil {
		b.log.Debug("update without sender", "update_id", upd.ID)
		return
	}

	fields := make([]any, 0, 10)
	fields = append(fields, "update_id", upd.ID, "user_id", sender.ID, "username", sender.Username)

	if m := upd.Message; m != nil {
		fields = append(fields, "msg_id", m.ID)
		if m.Text != "" {
			fields = append(fields, "text", maxLen(m.Text, MaxTextLenInLogs))
		}
		if a := attachmentFromMessage(m); a != nil {
			fields = append(fields, "kind", a.Kind, "file_name", a.FileName, "size", a.Size)
		}
	}

	b.log.Debug("update", fields...)
}

type teleTransport struct {
	bot *tele.Bot
}

// Download doesn't interrupt started download on context cancel, HTTP client timeout limits it.
func (t *teleTransport) Download(ctx context.Context, file Attachment, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.bot.Download(&tele.File{FileID: file.FileID}, dst)
}

func (t *teleTransport) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tele.ChatID(chatID), text)
	return err
}

func (t *teleTransport) SendDocument(ctx context.Context, chatID int64, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d := &tele.Document{
		File:     tele.FromDisk(doc.Path),
		FileName: doc.FileName,
	}
	if doc.ThumbnailPath != "" {
		d.Thumbnail = &tele.Photo{File: tele.FromDisk(doc.ThumbnailPath)}
	}

	_, err := t.bot.Send(tele.ChatID(chatID), d)
	return err
}
