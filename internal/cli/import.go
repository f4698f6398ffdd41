package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"calremind/internal/ics"
	logx "calremind/pkg/logx"
)

func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	sf := &storeFlags{}
	var defReminder int
	cmd := &cobra.Command{
		Use:   "import <file.ics>...",
		Short: "Load iCalendar files into the event store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := sf.open()
			if err != nil {
				return err
			}
			defer st.Close()

			var opt ics.Options
			if defReminder >= 0 {
				opt.DefaultReminder = &defReminder
			}
			im := ics.NewImporter(st, logx.Nop(), opt)
			results := make([]ics.Result, 0, len(args))
			for _, path := range args {
				res, err := im.ImportFile(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				results = append(results, res)
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).emit(results, func(w io.Writer) {
				for _, r := range results {
					fmt.Fprintf(w, "%s: parsed=%d imported=%d unchanged=%d skipped=%d\n",
						r.Source, r.Parsed, r.Imported, r.Unchanged, r.Skipped)
				}
			})
		},
	}
	sf.bind(cmd)
	cmd.Flags().IntVar(&defReminder, "default-reminder", -1, "reminder minutes for events without an alarm; negative for none")
	return cmd
}
