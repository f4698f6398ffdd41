package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"calremind/internal/event"
	"calremind/internal/occurrence"
)

type nextOptions struct {
	start, tz, rule, until, after string
	remind                        int
	n                             int
}

type occurrenceView struct {
	At     time.Time  `json:"at"`
	FireAt *time.Time `json:"fire_at,omitempty"`
}

func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	o := &nextOptions{}
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Preview upcoming occurrences of an event",
		Example: `  remindctl next --start 2026-03-02T09:00:00+01:00 --tz Europe/Berlin \
    --rule "RRULE:FREQ=WEEKLY;BYDAY=MO,TH" --remind 15 -n 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			occ, err := runNext(o)
			if err != nil {
				return err
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).emit(occ, func(w io.Writer) {
				if len(occ) == 0 {
					fmt.Fprintln(w, "no upcoming occurrence")
					return
				}
				for _, v := range occ {
					if v.FireAt != nil {
						fmt.Fprintf(w, "%s  (remind at %s)\n", v.At.Format(time.RFC3339), v.FireAt.Format(time.RFC3339))
						continue
					}
					fmt.Fprintln(w, v.At.Format(time.RFC3339))
				}
			})
		},
	}
	cmd.Flags().StringVar(&o.start, "start", "", "first occurrence (RFC3339)")
	cmd.Flags().StringVar(&o.tz, "tz", "", "IANA time zone recurrences are laid out in")
	cmd.Flags().StringVar(&o.rule, "rule", "", "recurrence rule text; empty for a one-shot event")
	cmd.Flags().StringVar(&o.until, "until", "", "recurrence end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&o.after, "after", "", "search after this instant (default now)")
	cmd.Flags().IntVar(&o.remind, "remind", -1, "reminder offset in minutes; negative for none")
	cmd.Flags().IntVarP(&o.n, "count", "n", 1, "number of occurrences to list")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func runNext(o *nextOptions) ([]occurrenceView, error) {
	start, err := time.Parse(time.RFC3339, o.start)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	ev := event.Event{ID: "preview", Start: start, TimeZone: o.tz, Recurrence: o.rule}
	if o.until != "" {
		if ev.RecurrenceEnd, err = parseInstant(o.until, ev.Location()); err != nil {
			return nil, fmt.Errorf("--until: %w", err)
		}
	}
	if o.remind >= 0 {
		ev.ReminderMinutes = event.Minutes(o.remind)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	rule, hasRule, err := ev.Rule()
	if err != nil {
		return nil, err
	}

	after := time.Now()
	if o.after != "" {
		if after, err = time.Parse(time.RFC3339, o.after); err != nil {
			return nil, fmt.Errorf("--after: %w", err)
		}
	}

	loc := ev.Location()
	out := []occurrenceView{}
	for len(out) < max(o.n, 1) {
		at, ok := occurrence.ForEvent(ev, rule, hasRule, after)
		if !ok {
			break
		}
		v := occurrenceView{At: at.In(loc)}
		if ev.HasReminder() {
			f := at.Add(-ev.Offset()).In(loc)
			v.FireAt = &f
		}
		out = append(out, v)
		after = at
	}
	return out, nil
}
