// Package router classifies inbound events once, into a closed set of
// actions that the intake loop consumes exhaustively.
package router

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
)

// Action is the classification of an inbound event.
type Action int

const (
	// ActionIgnore drops the event without processing.
	ActionIgnore Action = iota
	// ActionNewRoot starts a new thread from a marked message.
	ActionNewRoot
	// ActionReply extends an existing thread.
	ActionReply
)

func (a Action) String() string {
	switch a {
	case ActionNewRoot:
		return "new_root"
	case ActionReply:
		return "reply"
	default:
		return "ignore"
	}
}

// Route is the result of classifying one event.
type Route struct {
	Action Action
	Event  bus.InboundEvent
}

// DefaultMarker is the hashtag that identifies a new signal.
const DefaultMarker = "#signal"

// Router detects the signal marker in message content.
type Router struct {
	markers []string
}

// New creates a router matching any of markers. With no markers the
// DefaultMarker is used.
func New(markers ...string) *Router {
	r := &Router{}
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			r.markers = append(r.markers, normalize(m))
		}
	}
	if len(r.markers) == 0 {
		r.markers = []string{normalize(DefaultMarker)}
	}
	return r
}

// Route classifies ev. The marker takes precedence over reply metadata;
// without a marker an event is a reply if it declares a reply-to reference,
// otherwise it is ignored.
func (r *Router) Route(ev bus.InboundEvent) Route {
	switch {
	case r.HasMarker(ev.Content):
		return Route{Action: ActionNewRoot, Event: ev}
	case ev.IsReply():
		return Route{Action: ActionReply, Event: ev}
	default:
		return Route{Action: ActionIgnore, Event: ev}
	}
}

// HasMarker reports whether content contains one of the configured markers.
// Matching is case-insensitive and compatibility-normalized, so full-width
// or differently composed variants of the marker still match. Invalid UTF-8
// is repaired before matching and never causes a panic.
func (r *Router) HasMarker(content string) (found bool) {
	if strings.TrimSpace(content) == "" {
		return false
	}
	defer func() {
		if recover() != nil {
			found = false
		}
	}()

	text := normalize(content)
	for _, m := range r.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// normalize builds a fresh Caser per call: Casers carry state and must not
// be shared between goroutines.
func normalize(s string) string {
	s = strings.ToValidUTF8(s, "�")
	return cases.Fold().String(norm.NFKC.String(s))
}
