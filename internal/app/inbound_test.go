package app

import (
	"testing"

	kit "remindbot/internal/transport"
)

func TestCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "/start", want: "/start"},
		{in: "/start@remind_bot", want: "/start"},
		{in: "  /unsubscribe  ", want: "/unsubscribe"},
		{in: "/start some args", want: "/start"},
		{in: "hello", want: ""},
		{in: "", want: ""},
		{in: "text /start", want: ""},
	}
	for _, tt := range tests {
		if got := command(tt.in); got != tt.want {
			t.Fatalf("command(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChatName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  kit.Message
		want string
	}{
		{name: "group title", msg: kit.Message{ChatTitle: "Team", FromUsername: "alice"}, want: "Team"},
		{name: "username", msg: kit.Message{FromUsername: "alice"}, want: "@alice"},
		{name: "bare private", msg: kit.Message{}, want: "Private"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := chatName(tt.msg); got != tt.want {
				t.Fatalf("chatName = %q, want %q", got, tt.want)
			}
		})
	}
}
