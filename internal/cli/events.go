package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"calremind/internal/config"
	"calremind/internal/event"
	"calremind/internal/storage"
	logx "calremind/pkg/logx"
)

type storeFlags struct {
	driver, path string
}

func (f *storeFlags) bind(cmd *cobra.Command) {
	defPath := os.Getenv(config.EnvStoragePath)
	if defPath == "" {
		defPath = "./remindd.db"
	}
	cmd.PersistentFlags().StringVar(&f.driver, "driver", "sqlite", "storage driver (sqlite|file)")
	cmd.PersistentFlags().StringVar(&f.path, "db", defPath, "storage path (default from "+config.EnvStoragePath+")")
}

func (f *storeFlags) open() (storage.Store, error) {
	d := strings.ToLower(strings.TrimSpace(f.driver))
	if d == "" || d == "memory" || d == "mem" {
		return nil, fmt.Errorf("driver %q does not persist; use sqlite or file", f.driver)
	}
	return storage.Open(storage.Config{Driver: d, Path: f.path, BusyTimeout: 5 * time.Second}, logx.Nop())
}

func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	sf := &storeFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List or delete stored events",
	}
	sf.bind(cmd)

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored events ordered by start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sf.open()
			if err != nil {
				return err
			}
			defer st.Close()
			evs, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).emit(evs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTART\tREMIND\tRULE\tTITLE")
				for _, ev := range evs {
					remind := "-"
					if ev.HasReminder() {
						remind = fmt.Sprintf("%dm", *ev.ReminderMinutes)
					}
					rule := ev.Recurrence
					if rule == "" {
						rule = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.ID, ev.Start.In(ev.Location()).Format(time.RFC3339), remind, rule, ev.Title)
				}
				_ = tw.Flush()
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete events by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sf.open()
			if err != nil {
				return err
			}
			defer st.Close()
			p := newPrinter(rootOpts, cmd.OutOrStdout())
			result := map[string]bool{}
			for _, id := range args {
				existed, err := st.Delete(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				result[id] = existed
			}
			return p.emit(result, func(io.Writer) {
				for _, id := range args {
					if result[id] {
						p.line("deleted %s", id)
					} else {
						p.line("not found %s", id)
					}
				}
			})
		},
	}

	cmd.AddCommand(list, newEventsPutCommand(rootOpts, sf), del)
	return cmd
}

func newEventsPutCommand(rootOpts *RootOptions, sf *storeFlags) *cobra.Command {
	var (
		id, title, start, tz, rule, until string
		remind                            int
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace one event",
		Example: `  remindctl events put --title Standup --start 2026-03-02T09:00:00+01:00 \
    --tz Europe/Berlin --rule "RRULE:FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR" --remind 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := event.Event{ID: strings.TrimSpace(id), Title: title, TimeZone: tz, Recurrence: rule}
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			var err error
			if ev.Start, err = time.Parse(time.RFC3339, start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if until != "" {
				if ev.RecurrenceEnd, err = parseInstant(until, ev.Location()); err != nil {
					return fmt.Errorf("--until: %w", err)
				}
			}
			if remind >= 0 {
				ev.ReminderMinutes = event.Minutes(remind)
			}
			if err := ev.Validate(); err != nil {
				return err
			}
			ev.UpdatedAt = time.Now().UTC()

			st, err := sf.open()
			if err != nil {
				return err
			}
			defer st.Close()
			_, existed, err := st.Put(cmd.Context(), ev)
			if err != nil {
				return err
			}
			res := map[string]any{"id": ev.ID, "replaced": existed}
			return newPrinter(rootOpts, cmd.OutOrStdout()).emit(res, func(w io.Writer) {
				verb := "created"
				if existed {
					verb = "replaced"
				}
				fmt.Fprintf(w, "%s %s\n", verb, ev.ID)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "event id (default: random UUID)")
	cmd.Flags().StringVar(&title, "title", "", "event title")
	cmd.Flags().StringVar(&start, "start", "", "first occurrence (RFC3339)")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone recurrences are laid out in")
	cmd.Flags().StringVar(&rule, "rule", "", "recurrence rule text; empty for a one-shot event")
	cmd.Flags().StringVar(&until, "until", "", "recurrence end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().IntVar(&remind, "remind", -1, "reminder offset in minutes; negative for none")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}
