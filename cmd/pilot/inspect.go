package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"AccountPilot/internal/credential"
	"AccountPilot/internal/pilot"
	"AccountPilot/internal/remote"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "Print today's effective window and timers for every account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p, err := pilot.New(cfg, pilot.Options{Client: remote.NewMockClient()})
		if err != nil {
			return err
		}
		plans, err := p.Windows(time.Now())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tSTART\tEND\tMILESTONES\tFIRST PACE")
		for _, plan := range plans {
			var names string
			for i, f := range plan.Milestones {
				if i > 0 {
					names += ", "
				}
				names += f.Name + "@" + f.At.Format("15:04")
			}
			if names == "" {
				names = "-"
			}
			pace := "-"
			if !plan.FirstPace.IsZero() {
				pace = plan.FirstPace.Format("15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", plan.AccountID,
				plan.Window.Start.Format("2006-01-02 15:04"), plan.Window.End.Format("2006-01-02 15:04"), names, pace)
		}
		return w.Flush()
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List accounts from the credential store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := credential.NewFileStore(cfg.Credentials.File).Load()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tENABLED\tHOURS\tUPDATED")
		for _, e := range entries {
			hours, err := cfg.HoursFor(e.ID)
			if err != nil {
				return err
			}
			updated := "-"
			if !e.UpdatedAt.IsZero() {
				updated = e.UpdatedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s-%s\t%s\n", e.ID, e.Name, cfg.Enabled(e.ID), hours.Start, hours.End, updated)
		}
		return w.Flush()
	},
}
