// ABOUTME: Colorized terminal rendering of session events
// ABOUTME: Prints each message once, streams AI replies inline and shows presence changes

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/session"
)

var (
	aiColor      = color.New(color.FgGreen)
	partnerColor = color.New(color.FgBlue)
	selfColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.FgHiBlack)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed, color.Bold)
)

// renderer writes events to out. It remembers what it already printed so
// confirmations of optimistic messages and streamed replies are not repeated.
type renderer struct {
	mu     sync.Mutex
	out    io.Writer
	selfID string

	printedIDs     map[string]bool
	printedClients map[string]bool
	streamed       string
	streaming      bool
	typing         string
}

func newRenderer(out io.Writer, selfID string) *renderer {
	return &renderer{
		out:            out,
		selfID:         selfID,
		printedIDs:     make(map[string]bool),
		printedClients: make(map[string]bool),
	}
}

func (r *renderer) render(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case session.EventState:
		dimColor.Fprintf(r.out, "[%s]\n", ev.State)
	case session.EventHistory:
		for _, m := range ev.Messages {
			r.printMessage(m)
		}
	case session.EventMessage:
		r.printMessage(ev.Message)
	case session.EventStreamStart:
		r.streaming = true
		r.streamed = ""
		aiColor.Fprint(r.out, "ai: ")
	case session.EventStreamChunk:
		r.streamed += ev.Chunk
		fmt.Fprint(r.out, ev.Chunk)
	case session.EventStreamEnd:
		r.streaming = false
		fmt.Fprintln(r.out)
	case session.EventPresence:
		r.printTyping(ev.Participants)
	case session.EventRole:
		dimColor.Fprintf(r.out, "[you are %s]\n", ev.Role)
	case session.EventQueue:
		if ev.Pending > 0 {
			warnColor.Fprintf(r.out, "[%d message(s) waiting to send]\n", ev.Pending)
		}
	case session.EventFinalized:
		warnColor.Fprintln(r.out, "[session finalized, no further messages can be sent]")
	case session.EventError:
		errColor.Fprintf(r.out, "[error] %v\n", ev.Err)
	}
}

func (r *renderer) printMessage(m chat.Message) {
	if m.ID != "" {
		if r.printedIDs[m.ID] {
			return
		}
		r.printedIDs[m.ID] = true
	}

	if m.ClientID != "" {
		if r.printedClients[m.ClientID] {
			return
		}
		r.printedClients[m.ClientID] = true
	}
	if m.Role == chat.RoleAI && !m.IsProvisional() && r.streamed != "" && m.Content == r.streamed {
		r.streamed = ""
		return
	}

	label, c := r.label(m)
	c.Fprintf(r.out, "%s: ", label)
	fmt.Fprint(r.out, m.Content)
	if m.IsProvisional() {
		dimColor.Fprint(r.out, " …")
	}
	fmt.Fprintln(r.out)
}

func (r *renderer) label(m chat.Message) (string, *color.Color) {
	switch {
	case m.Role == chat.RoleAI:
		return "ai", aiColor
	case m.IsProvisional() || (m.SenderID != "" && m.SenderID == r.selfID):
		return "you", selfColor
	case m.Role.IsPartner():
		return string(m.Role), partnerColor
	default:
		return "you", selfColor
	}
}

// printTyping announces when the set of other people typing changes.
func (r *renderer) printTyping(roster []chat.Participant) {
	var names []string
	for _, p := range roster {
		if p.Typing && p.ID != r.selfID {
			name := p.DisplayName
			if name == "" {
				name = p.ID
			}
			names = append(names, name)
		}
	}
	typing := strings.Join(names, ", ")
	if typing == r.typing {
		return
	}
	r.typing = typing
	if typing != "" && !r.streaming {
		dimColor.Fprintf(r.out, "[%s is typing]\n", typing)
	}
}
