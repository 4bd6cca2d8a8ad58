package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/vmrt/profile"
)

func newProfileCmd(g *globalFlags) *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect saved profiles",
	}
	cmd.PersistentFlags().StringVar(&database, "db", "", "profile database (default from configuration)")

	open := func() (*profile.Store, error) {
		cfg, err := g.load()
		if err != nil {
			return nil, err
		}
		path := cfg.Profile.Database
		if database != "" {
			path = database
		}
		return profile.Open(path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s@%04d\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Image, r.Entry)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show RUN",
		Short: "Show routine and opcode counts of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "routines:")
			for _, r := range snap.Routines {
				hot := ""
				if r.Hot {
					hot = "  hot"
				}
				fmt.Fprintf(out, "  %04d  %d%s\n", r.Entry, r.Invocations, hot)
			}
			fmt.Fprintln(out, "opcodes:")
			for _, o := range snap.Opcodes {
				fmt.Fprintf(out, "  %-12s %d\n", o.Opcode, o.Count)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "hot IMAGE",
		Short: "List routines that became hot in any run of IMAGE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.HotRoutines(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%04d\n", e)
			}
			return nil
		},
	})
	return cmd
}
