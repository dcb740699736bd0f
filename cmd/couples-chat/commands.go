// ABOUTME: Slash commands and message sending for the terminal client
// ABOUTME: /finalize, /queue, /who, /state, /typing, /help and /quit

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/session"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

// handleLine runs one line of input and reports whether the user asked to quit.
func handleLine(ctx context.Context, client chatClient, r *renderer, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	out := r.out
	switch input {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		printHelp(r)
	case "/finalize":
		err := client.Finalize(ctx)
		switch {
		case errors.Is(err, transport.ErrNotConnected):
			warnColor.Fprintln(out, "[not connected, try again once reconnected]")
		case err != nil:
			errColor.Fprintf(out, "[error] %v\n", err)
		}
	case "/queue":
		printQueue(r, client.State())
	case "/who":
		printWho(r, client.State())
	case "/state":
		printState(r, client.State(), client.IsAdmin())
	case "/typing":
		if err := client.SetTyping(ctx, true); err != nil {
			errColor.Fprintf(out, "[error] %v\n", err)
		}
	default:
		if strings.HasPrefix(input, "/") {
			warnColor.Fprintf(out, "unknown command %s, see /help\n", input)
			return false
		}
		sendLine(ctx, client, r, input)
	}
	return false
}

func sendLine(ctx context.Context, client chatClient, r *renderer, text string) {
	err := client.SendMessage(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrQueued):
		warnColor.Fprintln(r.out, "[no reply from server, message will be retried]")
	case errors.Is(err, session.ErrFinalized):
		warnColor.Fprintln(r.out, "[this session is finalized]")
	default:
		errColor.Fprintf(r.out, "[error] %v\n", err)
	}
	_ = client.SetTyping(ctx, false)
}

func printHelp(r *renderer) {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  /finalize   End the session for good")
	fmt.Fprintln(r.out, "  /queue      Show messages waiting to be sent")
	fmt.Fprintln(r.out, "  /who        Show participants (shared sessions)")
	fmt.Fprintln(r.out, "  /state      Show connection state")
	fmt.Fprintln(r.out, "  /typing     Tell your partner you are typing")
	fmt.Fprintln(r.out, "  /help       Show this help")
	fmt.Fprintln(r.out, "  /quit       Exit")
}

func printQueue(r *renderer, s session.Snapshot) {
	if len(s.Pending) == 0 {
		fmt.Fprintln(r.out, "Queue is empty")
		return
	}
	fmt.Fprintf(r.out, "%d queued:\n", len(s.Pending))
	for _, m := range s.Pending {
		fmt.Fprintf(r.out, "  %s  %s", m.EnqueuedAt.Format(time.Kitchen), truncate(m.Content, 60))
		if m.Attempts > 0 {
			dimColor.Fprintf(r.out, " (%d attempt(s))", m.Attempts)
		}
		fmt.Fprintln(r.out)
	}
}

func printWho(r *renderer, s session.Snapshot) {
	if len(s.Participants) == 0 {
		fmt.Fprintln(r.out, "No participants")
		return
	}
	for _, p := range s.Participants {
		status := "offline"
		if p.Online {
			status = "online"
		}
		if p.Typing {
			status += ", typing"
		}
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		fmt.Fprintf(r.out, "  %-12s %-10s %s\n", name, p.Role, status)
	}
	if s.SelfRole != "" {
		dimColor.Fprintf(r.out, "  you are %s\n", s.SelfRole)
	}
}

func printState(r *renderer, s session.Snapshot, admin bool) {
	fmt.Fprintf(r.out, "connection: %s\n", s.Connection)
	fmt.Fprintf(r.out, "messages:   %d\n", len(s.Messages))
	fmt.Fprintf(r.out, "queued:     %d\n", len(s.Pending))
	fmt.Fprintf(r.out, "streaming:  %t\n", s.Streaming)
	fmt.Fprintf(r.out, "finalized:  %t\n", s.Finalized)
	if s.Err != nil {
		fmt.Fprintf(r.out, "last error: %v\n", s.Err)
	}
	if !admin {
		return
	}
	fmt.Fprintf(r.out, "attempt:    %d\n", s.Attempt)
	for _, m := range s.Pending {
		dimColor.Fprintf(r.out, "  key=%s attempts=%d\n", m.Key, m.Attempts)
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
