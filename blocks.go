package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iwanhae/tcp-guard/banlog"
	"github.com/iwanhae/tcp-guard/types"
)

func runBlocks(cmd *cobra.Command, args []string) error {
	db, err := banlog.NewSQLite(blocksDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		return err
	}

	bans, err := db.ListBans(blocksLimit)
	if err != nil {
		return err
	}
	return printBans(cmd.OutOrStdout(), bans, time.Now())
}

func printBans(w io.Writer, bans []*types.Ban, now time.Time) error {
	if len(bans) == 0 {
		_, err := fmt.Fprintln(w, "no blocks recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tREASON\tBLOCKED AT\tUNTIL\tACTIVE")
	for _, b := range bans {
		active := "no"
		if now.Before(b.Until) {
			active = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.IP, b.Reason,
			b.At.Format(time.RFC3339), b.Until.Format(time.RFC3339),
			active)
	}
	return tw.Flush()
}
