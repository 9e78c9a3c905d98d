package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digest_bot/internal/input"
	"digest_bot/internal/model"
)

const helpText = `Available commands:
/start — welcome message
/set — choose how often to receive the digest
/status — show the current schedule
/now — send a digest right away
/stop — stop receiving digests
/help — this list`

// FormatStart returns the welcome message for a chat.
func FormatStart(chat *tgbotapi.Chat) string {
	text := "Hi! I send digests of economic news. " +
		"Use /set to choose how often with the buttons. " +
		"Use /help for the list of commands."
	switch {
	case chat.IsChannel():
		text += "\n\nMake sure the bot is allowed to post messages in the channel."
	case chat.IsGroup() || chat.IsSuperGroup():
		text += "\n\nIn groups the bot must be an administrator to configure the schedule."
	}
	return text
}

// FormatScheduleSet confirms a new schedule.
func FormatScheduleSet(label string) string {
	return fmt.Sprintf("Digest schedule set: every %s.", label)
}

// FormatStatus describes the chat's schedule.
func FormatStatus(entry model.ScheduleEntry, ok bool) string {
	if !ok {
		return "No digest schedule yet. Use /set to choose one."
	}
	return fmt.Sprintf("Digests are sent every %s.", entry.Label)
}

// FormatInputPrompt asks for a custom interval.
func FormatInputPrompt(unit model.IntervalUnit) string {
	if unit == model.UnitDays {
		return "Please enter the number of days (for example, 2):"
	}
	return "Please enter the number of minutes (for example, 30):"
}

// FormatInputError explains why custom input was rejected.
func FormatInputError(outcome input.Outcome) string {
	switch o := outcome.(type) {
	case input.FormatError:
		return "Please enter a whole number only."
	case input.RangeError:
		return fmt.Sprintf("The number of %s must be between 1 and %d.", o.Unit, o.Max)
	}
	return ""
}
