package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"ghostbot/pkg/command"
	"ghostbot/pkg/plugins"

	"github.com/spf13/cobra"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the registered commands and triggers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := command.NewRegistry()
		plugins.Register(reg, plugins.Deps{Log: slog.New(slog.DiscardHandler)})

		return writeCommands(cmd.OutOrStdout(), reg.All())
	},
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}

func writeCommands(w io.Writer, descriptors []*command.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tALIASES\tCATEGORY\tOWNER\tTRIGGER\tDESCRIPTION")
	for _, d := range descriptors {
		trigger := string(d.Trigger)
		if trigger == "" {
			trigger = "-"
		}
		aliases := strings.Join(d.Aliases, ",")
		if aliases == "" {
			aliases = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", d.Label(), aliases, d.Category, d.OwnerOnly, trigger, d.Description)
	}

	return tw.Flush()
}
