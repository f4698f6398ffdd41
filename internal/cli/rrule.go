package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"calremind/internal/recurrence"
)

type ruleView struct {
	Text      string    `json:"text"`
	Frequency string    `json:"frequency"`
	Weekdays  []string  `json:"weekdays,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	Count     int       `json:"count,omitempty"`
}

func viewRule(r recurrence.Rule) ruleView {
	v := ruleView{Text: recurrence.Encode(r), Frequency: r.Frequency().String()}
	for _, d := range r.Weekdays().Days() {
		v.Weekdays = append(v.Weekdays, recurrence.WeekdayCode(d))
	}
	switch e := r.End(); e.Kind {
	case recurrence.EndUntil:
		v.Until = e.Until
	case recurrence.EndCount:
		v.Count = e.Count
	}
	return v
}

func (v ruleView) write(w io.Writer) {
	fmt.Fprintln(w, v.Text)
	fmt.Fprintf(w, "  frequency: %s\n", v.Frequency)
	if len(v.Weekdays) > 0 {
		fmt.Fprintf(w, "  weekdays:  %s\n", strings.Join(v.Weekdays, ","))
	}
	if !v.Until.IsZero() {
		fmt.Fprintf(w, "  until:     %s\n", v.Until.UTC().Format(time.RFC3339))
	}
	if v.Count > 0 {
		fmt.Fprintf(w, "  count:     %d\n", v.Count)
	}
}

func NewRRuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rrule",
		Short: "Encode or decode persisted recurrence rules",
	}
	cmd.AddCommand(newRRuleEncodeCommand(rootOpts), newRRuleDecodeCommand(rootOpts))
	return cmd
}

func newRRuleEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		freq, days, until string
		count             int
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build rule text from its parts",
		Example: `  remindctl rrule encode --freq weekly --days MO,WE,FR --until 2026-12-31
  remindctl rrule encode --freq daily --count 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := recurrence.ParseFrequency(freq)
			if !ok {
				return fmt.Errorf("unknown frequency %q", freq)
			}
			end := recurrence.Never()
			switch {
			case until != "":
				t, err := parseInstant(until, time.UTC)
				if err != nil {
					return fmt.Errorf("--until: %w", err)
				}
				end = recurrence.Until(t)
			case count > 0:
				end = recurrence.Count(count)
			}
			r, err := recurrence.New(f, recurrence.ParseWeekdays(days), end)
			if err != nil {
				return err
			}
			v := viewRule(r)
			return newPrinter(rootOpts, cmd.OutOrStdout()).emit(v, v.write)
		},
	}
	cmd.Flags().StringVar(&freq, "freq", "weekly", "DAILY, WEEKLY, MONTHLY or YEARLY")
	cmd.Flags().StringVar(&days, "days", "", "comma-separated weekday codes (weekly only)")
	cmd.Flags().StringVar(&until, "until", "", "inclusive end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&count, "count", 0, "number of occurrences (ignored with --until)")
	return cmd
}

func newRRuleDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <rule>",
		Short: "Parse rule text and show its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := recurrence.Decode(args[0])
			if err != nil {
				return err
			}
			v := viewRule(r)
			return newPrinter(rootOpts, cmd.OutOrStdout()).emit(v, v.write)
		},
	}
}

// parseInstant accepts RFC3339, or a bare date meaning the end of that day in loc.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or YYYY-MM-DD, got %q", s)
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, 0, loc), nil
}
