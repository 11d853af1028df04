package renamebot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/errm"
)

const thumbnailSuffix = "_thumb.jpg"

// AttachmentKind is a kind of media that can be renamed.
type AttachmentKind string

const (
	AttachmentDocument AttachmentKind = "document"
	AttachmentVideo    AttachmentKind = "video"
)

// Attachment is a file received from user.
type Attachment struct {
	Kind AttachmentKind
	// FileID is used to download the file.
	FileID string
	// UniqueID is a stable identifier of the file, it is used in the name of the staged file.
	UniqueID string
	// FileName is an original name of the file, it can be empty.
	FileName string
	Size     int64
}

// Request contains information about the sender of the update.
type Request struct {
	UserID       int64
	ChatID       int64
	LanguageCode string
}

func (r Request) fields(add ...any) []any {
	return append([]any{"user_id", r.UserID, "chat_id", r.ChatID}, add...)
}

// Document is a file that should be sent to a chat.
type Document struct {
	// Path is a path to the local file.
	Path string
	// FileName is a name of the file that user will see.
	FileName string
	// ThumbnailPath is a path to the local JPEG thumbnail, it is optional.
	ThumbnailPath string
}

// Transport sends and receives files and messages.
type Transport interface {
	// Download saves the attachment to the local file at dst.
	Download(ctx context.Context, file Attachment, dst string) error
	// Send sends a text message to the chat.
	Send(ctx context.Context, chatID int64, text string) error
	// SendDocument sends a local file to the chat as a document.
	SendDocument(ctx context.Context, chatID int64, doc Document) error
}

// Processor handles commands and files of users. It is safe for concurrent use.
type Processor struct {
	db    UsersStorage
	tr    Transport
	thumb Thumbnailer
	msgs  MessageProvider
	log   Logger
	metr  *metrics

	tempDir string

	// counters is a process wide cache of user counters, file handling never reads it
	counters *abstract.SafeMap[int64, int64]
}

// NewProcessor creates a processor that uses the provided transport.
// Options are the same as for [New], Transport option is ignored.
func NewProcessor(tr Transport, optsFuncs ...func(*Options)) (*Processor, error) {
	if tr == nil {
		return nil, errm.New("transport cannot be nil")
	}

	var opts Options
	for _, f := range optsFuncs {
		f(&opts)
	}
	opts.Transport = tr

	opts, err := prepareOpts(opts)
	if err != nil {
		return nil, errm.Wrap(err, "prepare opts")
	}

	return newProcessor(opts), nil
}

func newProcessor(opts Options) *Processor {
	return &Processor{
		db:       opts.UserDB,
		tr:       opts.Transport,
		thumb:    opts.Thumbnailer,
		msgs:     opts.Msgs,
		log:      opts.Logger,
		metr:     opts.metrics,
		tempDir:  opts.Config.TempDir,
		counters: abstract.NewSafeMap[int64, int64](),
	}
}

// HandleStart creates a user record if it doesn't exist and sends a greeting.
func (p *Processor) HandleStart(ctx context.Context, req Request) error {
	p.metr.incCommand(handlerStart)

	created, err := p.db.EnsureUser(ctx, req.UserID)
	if err != nil {
		return errm.Wrap(err, "ensure user")
	}
	if created {
		p.log.Info("new user", req.fields()...)
	}

	if err := p.tr.Send(ctx, req.ChatID, p.msgs.Messages(req.LanguageCode).Activated()); err != nil {
		return errm.Wrap(err, "send activated")
	}

	return nil
}

// HandleClear resets counter of the user and sends a confirmation.
// It doesn't create a record if it doesn't exist.
func (p *Processor) HandleClear(ctx context.Context, req Request) error {
	p.metr.incCommand(handlerClear)

	if err := p.db.ResetCount(ctx, req.UserID); err != nil {
		return errm.Wrap(err, "reset count")
	}
	p.counters.Set(req.UserID, 0)

	p.log.Info("counter cleared", req.fields()...)

	if err := p.tr.Send(ctx, req.ChatID, p.msgs.Messages(req.LanguageCode).Cleared()); err != nil {
		return errm.Wrap(err, "send cleared")
	}

	return nil
}

// HandleFile renames the file with the next number of user's counter and sends it back with a new thumbnail.
// Nil attachment is treated as unsupported media. Counter is not decreased if a later step fails.
// Failed thumbnail is not an error, the file is sent without it and user receives a warning.
func (p *Processor) HandleFile(ctx context.Context, req Request, file *Attachment) error {
	msgs := p.msgs.Messages(req.LanguageCode)

	if file == nil || !file.Kind.isSupported() {
		p.metr.incFileRejected()
		if err := p.tr.Send(ctx, req.ChatID, msgs.Unsupported()); err != nil {
			return errm.Wrap(err, "send unsupported")
		}
		return nil
	}

	count, err := p.db.IncrementCount(ctx, req.UserID)
	if err != nil {
		return errm.Wrap(err, "increment count")
	}

	newName := RenamedFileName(count, file.FileName)
	staged := stagingPath(p.tempDir, req.UserID, file.UniqueID)
	thumbPath := staged + thumbnailSuffix

	fields := req.fields(
		"op_id", uuid.NewString(),
		"kind", file.Kind,
		"file_name", file.FileName,
		"new_file_name", newName,
		"count", count,
	)

	defer p.removeFiles(fields, staged, thumbPath)

	if err := p.tr.Download(ctx, *file, staged); err != nil {
		return errm.Wrap(err, "download", "file_id", file.FileID)
	}

	doc := Document{
		Path:     staged,
		FileName: newName,
	}

	if err := p.thumb.Generate(ctx, staged, thumbPath); err != nil {
		p.metr.incThumbnailError()
		p.log.Warn("cannot generate thumbnail", append(fields, "error", err)...)

		if sendErr := p.tr.Send(ctx, req.ChatID, msgs.ThumbnailError(err)); sendErr != nil {
			p.log.Error("cannot send thumbnail warning", append(fields, "error", sendErr)...)
		}
	} else {
		doc.ThumbnailPath = thumbPath
	}

	if err := p.tr.SendDocument(ctx, req.ChatID, doc); err != nil {
		return errm.Wrap(err, "send document", "file_name", newName)
	}

	p.metr.incFileProcessed()
	p.log.Info("file renamed", append(fields, "with_thumbnail", doc.ThumbnailPath != "")...)

	return nil
}

// CachedCount returns the value of the in-memory counter of the user.
func (p *Processor) CachedCount(userID int64) (int64, bool) {
	return p.counters.Lookup(userID)
}

func (p *Processor) removeFiles(fields []any, paths ...string) {
	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			p.log.Error("cannot remove staged file", append(fields, "path", path, "error", err)...)
		}
	}
}

func (k AttachmentKind) isSupported() bool {
	return k == AttachmentDocument || k == AttachmentVideo
}

// stagingPath returns a path for downloaded file, e.g. /tmp/temp_123_AgADxQ.
func stagingPath(dir string, userID int64, uniqueID string) string {
	return filepath.Join(dir, fmt.Sprintf("temp_%d_%s", userID, sanitizePathElement(uniqueID)))
}

func sanitizePathElement(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
}
