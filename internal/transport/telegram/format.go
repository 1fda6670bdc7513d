package telegram

import (
	"fmt"
	"sort"
	"strings"

	"eventbot/internal/event"
)

// escape makes arbitrary user text safe for HTML parse mode.
func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func formatEvent(ev *event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", escape(ev.Name))
	fmt.Fprintf(&b, "%s %s\n", ev.Date, ev.Time)
	if ev.Description != "" {
		fmt.Fprintf(&b, "%s\n", escape(ev.Description))
	}
	status := "open"
	if !ev.Open {
		status = "closed"
	}
	fmt.Fprintf(&b, "Slots: %d/%d (%s)\n", ev.SlotsUsed, ev.MaxSlots, status)

	if len(ev.Teams) > 0 {
		b.WriteString("\n<b>Teams</b>\n")
		names := make([]string, 0, len(ev.Teams))
		for k := range ev.Teams {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			t := ev.Teams[k]
			fmt.Fprintf(&b, "• %s (%d)\n", escape(t.Name), t.Size)
		}
	}
	if len(ev.Waitlist) > 0 {
		fmt.Fprintf(&b, "\nWaitlist: %d team(s), /waitlist for details", len(ev.Waitlist))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWaitlist(ev *event.Event) string {
	if len(ev.Waitlist) == 0 {
		return "The waitlist is empty."
	}
	var b strings.Builder
	b.WriteString("<b>Waitlist</b>\n")
	for i, w := range ev.Waitlist {
		fmt.Fprintf(&b, "%d. %s (%d)\n", i+1, escape(w.Name), w.Size)
	}
	fmt.Fprintf(&b, "\nFree slots: %d", ev.FreeSlots())
	return b.String()
}

func formatPromotion(t event.Team) string {
	return fmt.Sprintf("Team <b>%s</b> (%d) moved up from the waitlist into the event.",
		escape(t.Name), t.Size)
}

func formatExpiry(name string) string {
	return fmt.Sprintf("Event <b>%s</b> is over; registrations have been cleared.",
		escape(name))
}

func formatTeam(ev *event.Event, name string) string {
	key := strings.ToLower(name)
	if t, ok := ev.Teams[key]; ok {
		return fmt.Sprintf("Team <b>%s</b>: %d slot(s), registered %s.",
			escape(t.Name), t.Size, t.RegisteredAt.Format("02.01.2006 15:04"))
	}
	for i, w := range ev.Waitlist {
		if strings.ToLower(w.Name) == key {
			return fmt.Sprintf("Team <b>%s</b> (%d) is #%d on the waitlist.",
				escape(w.Name), w.Size, i+1)
		}
	}
	return "No such team."
}
