package bot

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const callbackPrefix = "period:"

// Preset is a schedule offered on the /set keyboard.
type Preset struct {
	Key      string
	Button   string
	Interval time.Duration
	Label    string
}

// Presets in keyboard order.
var Presets = []Preset{
	{Key: "hourly", Button: "Hourly", Interval: time.Hour, Label: "hour"},
	{Key: "daily", Button: "Daily", Interval: 24 * time.Hour, Label: "day"},
	{Key: "weekly", Button: "Weekly", Interval: 7 * 24 * time.Hour, Label: "week"},
}

const (
	keyCustomMinutes = "custom_minutes"
	keyCustomDays    = "custom_days"
)

// Action is what a keyboard button asks for. It is one of PresetChosen,
// CustomMinutesRequested or CustomDaysRequested.
type Action interface {
	action()
}

// PresetChosen selects one of the Presets.
type PresetChosen struct {
	Preset Preset
}

// CustomMinutesRequested asks the recipient to type a number of minutes.
type CustomMinutesRequested struct{}

// CustomDaysRequested asks the recipient to type a number of days.
type CustomDaysRequested struct{}

func (PresetChosen) action()           {}
func (CustomMinutesRequested) action() {}
func (CustomDaysRequested) action()    {}

// ParseAction decodes keyboard callback data. Unknown data reports false.
func ParseAction(data string) (Action, bool) {
	key, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return nil, false
	}
	switch key {
	case keyCustomMinutes:
		return CustomMinutesRequested{}, true
	case keyCustomDays:
		return CustomDaysRequested{}, true
	}
	for _, p := range Presets {
		if p.Key == key {
			return PresetChosen{Preset: p}, true
		}
	}
	return nil, false
}

// ScheduleKeyboard is the inline keyboard shown by /set.
func ScheduleKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(Presets))
	for _, p := range Presets {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(p.Button, callbackPrefix+p.Key))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Custom (minutes)", callbackPrefix+keyCustomMinutes),
			tgbotapi.NewInlineKeyboardButtonData("Custom (days)", callbackPrefix+keyCustomDays),
		),
	)
}
