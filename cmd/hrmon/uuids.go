package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/gatt"
)

var uuidsCmd = &cobra.Command{
	Use:   "uuids",
	Short: "List the services and characteristics the monitor recognizes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

		_, _ = fmt.Fprintln(w, "SERVICE\tUUID\tSCAN FILTER")
		for _, uuid := range gatt.ScanServices() {
			full, _ := gatt.ExpandUUID(uuid)
			_, _ = fmt.Fprintf(w, "%s\t%s\tyes\n", gatt.KnownName(uuid), full)
		}
		_, _ = fmt.Fprintln(w)

		_, _ = fmt.Fprintln(w, "CHARACTERISTIC\tUUID\tSERVICE\tROLE\tPROPERTIES")
		for _, role := range gatt.Roles() {
			uuid := role.UUID()
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				gatt.KnownName(uuid), uuid, role.Service(), role, role.DefaultProperties())
		}
		return w.Flush()
	},
}
