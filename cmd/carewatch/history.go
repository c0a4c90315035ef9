package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LdDl/carewatch/eventstore"
	"github.com/LdDl/carewatch/interaction"
	"github.com/LdDl/carewatch/internal/config"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded interactions",
	Long: `History prints interactions from the event store, newest first.

Example:
  carewatch history --db carewatch.db --limit 20
  carewatch history --db carewatch.db --patient P-001`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("db", "", "SQLite event store, overrides store.path")
	historyCmd.Flags().Int("limit", 50, "Maximum number of interactions")
	historyCmd.Flags().String("patient", "", "Only interactions of this patient identity")
	historyCmd.Flags().Duration("since", 24*time.Hour, "With --patient, how far back to look")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if db := mustGetString(cmd, "db"); db != "" {
		cfg.Store.Path = db
	}
	if cfg.Store.Path == "" {
		return errors.New("no event store configured, pass --db or set store.path")
	}
	store, err := eventstore.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	limit := mustGetInt(cmd, "limit")
	patient := mustGetString(cmd, "patient")
	since, err := cmd.Flags().GetDuration("since")
	if err != nil {
		return err
	}

	var events []interaction.Event
	if patient != "" {
		events, err = store.ForPatient(cmd.Context(), patient, time.Now().Add(-since))
	} else {
		events, err = store.Recent(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no interactions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tSTAFF\tPATIENT\tPATIENT ID\tDURATION\tEVENT")
	for _, e := range events {
		patientID := e.PatientIdentityID
		if patientID == "" {
			patientID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format(time.DateTime), e.StaffTrackID, e.PatientTrackID, patientID, e.Duration, e.ID)
	}
	return tw.Flush()
}
