package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"digest_bot/internal/model"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		item    model.FeedItem
		include []string
		exclude []string
		want    bool
	}{
		{
			name: "no rules passes everything",
			item: model.FeedItem{Title: "anything", Body: "whatever"},
			want: true,
		},
		{
			name:    "include word matches",
			item:    model.FeedItem{Title: "Ключевая ставка сохранена", Body: "ЦБ оставил ставку"},
			include: []string{"ставк"},
			want:    true,
		},
		{
			name:    "include word no match",
			item:    model.FeedItem{Title: "Погода", Body: "Солнечно"},
			include: []string{"ставк"},
			want:    false,
		},
		{
			name:    "include is case insensitive",
			item:    model.FeedItem{Title: "ИНФЛЯЦИЯ ускорилась"},
			include: []string{"инфляция"},
			want:    true,
		},
		{
			name:    "exclude word blocks match",
			item:    model.FeedItem{Title: "Лучший вклад", Body: "Подробности по ссылке #реклама"},
			exclude: []string{"#реклама"},
			want:    false,
		},
		{
			name:    "exclude word does not block non-match",
			item:    model.FeedItem{Title: "Нефть дешевеет", Body: "Brent ниже $70"},
			exclude: []string{"#реклама"},
			want:    true,
		},
		{
			name:    "include OR logic",
			item:    model.FeedItem{Title: "Рубль укрепился"},
			include: []string{"нефть", "рубль"},
			want:    true,
		},
		{
			name:    "exclude wins over include",
			item:    model.FeedItem{Title: "Ставки по вкладам", Body: "erid: 2VtzqwX #реклама"},
			include: []string{"ставк"},
			exclude: []string{"#реклама"},
			want:    false,
		},
		{
			name:    "regex include",
			item:    model.FeedItem{Title: "ВВП вырос на 3,1%"},
			include: []string{`re:\d+,\d+%`},
			want:    true,
		},
		{
			name:    "regex exclude",
			item:    model.FeedItem{Body: "ERID: 2VtzqwX"},
			exclude: []string{`re:erid:\s*\w+`},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.include, tt.exclude)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, s.Match(tt.item)); diff != "" {
				t.Errorf("Match() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNilSetMatches(t *testing.T) {
	var s *Set
	if !s.Match(model.FeedItem{Title: "x"}) {
		t.Error("nil set must keep every item")
	}
	if diff := cmp.Diff(0, s.Len()); diff != "" {
		t.Errorf("Len() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInvalidRegex(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		wantErr bool
	}{
		{"valid", []string{"re:^ставк"}, []string{"#реклама"}, false},
		{"bad include", []string{"re:[unclosed"}, nil, true},
		{"bad exclude", nil, []string{"re:(?P<"}, true},
		{"brackets without prefix are literal", []string{"[unclosed"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.include, tt.exclude)
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
