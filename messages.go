package renamebot

import "fmt"

const defaultFileName = "file"

// MessageProvider is an interface for providing messages based on the user language code.
type MessageProvider interface {
	// Messages returns messages for a specific language.
	Messages(languageCode string) Messages
}

// Messages is a collection of replies of the bot.
type Messages interface {
	// Activated is a reply to /start command.
	Activated() string
	// Cleared is a reply to /clear command.
	Cleared() string
	// Unsupported is a reply to media that is not a document or a video.
	Unsupported() string
	// ThumbnailError is a warning that is sent when the file will be sent without thumbnail.
	ThumbnailError(err error) string
	// GeneralError returns the general error message that sends when an unhandled error occurs.
	GeneralError() string
}

type defaultMessageProvider struct {
	msgs defaultMessages
}

func newDefaultMessageProvider() *defaultMessageProvider {
	return &defaultMessageProvider{}
}

func (d *defaultMessageProvider) Messages(string) Messages {
	return d.msgs
}

type defaultMessages struct{}

func (defaultMessages) Activated() string {
	return "👋 Bot Activated. Send a file and I'll rename it with new thumbnail!"
}

func (defaultMessages) Cleared() string {
	return "✅ Your rename counter and thumbnail cache has been cleared."
}

func (defaultMessages) Unsupported() string {
	return "❌ Unsupported file type."
}

func (defaultMessages) ThumbnailError(err error) string {
	return "⚠️ Thumbnail error: " + errorText(err)
}

func (defaultMessages) GeneralError() string {
	return "⚠️ Something went wrong, try again later."
}

// RenamedFileName returns a name of the file with zero padded sequence number, e.g. "007. movie.mp4".
// Padding is at least 3 digits and numbers with more digits are not truncated.
// Empty name is replaced with "file".
func RenamedFileName(count int64, name string) string {
	if name == "" {
		name = defaultFileName
	}
	return fmt.Sprintf("%03d. %s", count, name)
}

func errorText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
