package transport

import (
	"errors"
	"testing"
)

func TestIsPermanentUnreachable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "blocked", err: errors.New("Forbidden: bot was blocked by the user"), want: true},
		{name: "deactivated", err: errors.New("Forbidden: user is deactivated"), want: true},
		{name: "group deleted", err: errors.New("Forbidden: the group chat was deleted"), want: true},
		{name: "chat not found", err: errors.New("Bad Request: chat not found"), want: true},
		{name: "kicked", err: errors.New("Forbidden: bot was kicked from the supergroup chat"), want: true},
		{name: "rate limited", err: errors.New("Too Many Requests: retry after 30"), want: false},
		{name: "parse error", err: errors.New("Bad Request: can't parse entities"), want: false},
		{name: "network", err: errors.New("dial tcp: i/o timeout"), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentUnreachable(tt.err); got != tt.want {
				t.Fatalf("IsPermanentUnreachable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsConflict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "getUpdates conflict", err: errors.New("telegram: Conflict: terminated by other getUpdates request (409)"), want: true},
		{name: "case insensitive", err: errors.New("CONFLICT: another getUpdates consumer"), want: true},
		{name: "unrelated conflict", err: errors.New("merge conflict in file"), want: false},
		{name: "other 409", err: errors.New("Conflict: webhook is active"), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConflict(tt.err); got != tt.want {
				t.Fatalf("IsConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
