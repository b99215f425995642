package main

import (
	"fmt"
	"io"

	"github.com/MrWong99/finvoice/internal/session"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// printer writes each transcript entry to a terminal once it is final:
// events when added, user turns once transcribed, assistant turns when done.
type printer struct {
	out     io.Writer
	printed map[string]bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, printed: make(map[string]bool)}
}

func (p *printer) flush(entries []transcript.Entry) {
	for _, e := range entries {
		if p.printed[e.ItemID] || !final(e) {
			continue
		}
		p.printed[e.ItemID] = true
		ts := e.Timestamp.Format("15:04:05")
		switch e.Kind {
		case transcript.KindEvent:
			fmt.Fprintf(p.out, "%s  * %s\n", ts, e.Content)
		default:
			fmt.Fprintf(p.out, "%s  %s: %s\n", ts, e.Role, e.Content)
		}
	}
}

func final(e transcript.Entry) bool {
	switch {
	case e.Kind == transcript.KindEvent:
		return true
	case e.Role == transcript.RoleAssistant:
		return e.Status == transcript.StatusDone
	default:
		return e.Content != "" && e.Content != session.TranscribingPlaceholder
	}
}
