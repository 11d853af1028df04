package renamebot

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// IsBlockedError returns true if error is returned by Telegram because user blocked the bot.
func IsBlockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "bot was blocked by the user")
}

func attachmentFromMessage(m *tele.Message) *Attachment {
	if m == nil {
		return nil
	}
	switch {
	case m.Document != nil:
		return &Attachment{
			Kind:     AttachmentDocument,
			FileID:   m.Document.FileID,
			UniqueID: m.Document.UniqueID,
			FileName: m.Document.FileName,
			Size:     m.Document.FileSize,
		}
	case m.Video != nil:
		return &Attachment{
			Kind:     AttachmentVideo,
			FileID:   m.Video.FileID,
			UniqueID: m.Video.UniqueID,
			FileName: m.Video.FileName,
			Size:     m.Video.FileSize,
		}
	default:
		return nil
	}
}

func maxLen(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func getSender(upd *tele.Update) *tele.User {
	switch {
	case upd.Message != nil:
		return upd.Message.Sender
	case upd.Callback != nil:
		return upd.Callback.Sender
	case upd.EditedMessage != nil:
		return upd.EditedMessage.Sender
	case upd.MyChatMember != nil:
		return upd.MyChatMember.Sender
	case upd.Query != nil:
		return upd.Query.Sender
	case upd.ChatJoinRequest != nil:
		return upd.ChatJoinRequest.Sender
	default:
		return nil
	}
}
