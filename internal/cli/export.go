package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/headline-goat/feed-goat/internal/store"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <experiment>",
		Short: "Export raw membership data",
		Long: `Export an experiment's memberships and conversion events in CSV or JSON
format.

Examples:
  feed-goat export feed_strategy --format csv > feed_strategy.csv
  feed-goat export feed_strategy --format json > feed_strategy.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'csv' or 'json'")
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				exp, err := a.engine.Experiment(args[0])
				if err != nil {
					return err
				}

				rows, err := collectExport(cmd.Context(), a.store, exp.ID)
				if err != nil {
					return err
				}

				if format == "csv" {
					return exportCSV(cmd.OutOrStdout(), rows)
				}
				return exportJSON(cmd.OutOrStdout(), exp.ID, rows)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv or json)")
	return cmd
}

type exportRow struct {
	Membership *store.Membership
	Events     []*store.Event
}

func collectExport(ctx context.Context, st store.Store, experiment string) ([]exportRow, error) {
	memberships, err := st.ListMemberships(ctx, experiment)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	rows := make([]exportRow, len(memberships))
	for i, m := range memberships {
		events, err := st.GetEvents(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get events: %w", err)
		}
		rows[i] = exportRow{Membership: m, Events: events}
	}
	return rows, nil
}

// exportCSV writes one line per membership, plus one per conversion event.
func exportCSV(out io.Writer, rows []exportRow) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "participant_type", "participant_id", "variant", "converted", "event"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range rows {
		m := r.Membership
		lines := [][]string{{
			strconv.FormatInt(m.CreatedAt.Unix(), 10),
			m.ParticipantType,
			m.ParticipantID,
			m.Variant,
			strconv.FormatBool(m.Converted),
			"",
		}}
		for _, e := range r.Events {
			lines = append(lines, []string{
				strconv.FormatInt(e.CreatedAt.Unix(), 10),
				m.ParticipantType,
				m.ParticipantID,
				m.Variant,
				"true",
				e.Name,
			})
		}
		if err := w.WriteAll(lines); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	Experiment  string           `json:"experiment"`
	Memberships []jsonMembership `json:"memberships"`
}

type jsonMembership struct {
	Timestamp       int64       `json:"timestamp"`
	ParticipantType string      `json:"participant_type"`
	ParticipantID   string      `json:"participant_id"`
	Variant         string      `json:"variant"`
	Converted       bool        `json:"converted"`
	Events          []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Timestamp int64  `json:"timestamp"`
	Name      string `json:"name"`
}

func exportJSON(out io.Writer, experiment string, rows []exportRow) error {
	export := jsonExport{
		Experiment:  experiment,
		Memberships: make([]jsonMembership, len(rows)),
	}

	for i, r := range rows {
		m := r.Membership
		jm := jsonMembership{
			Timestamp:       m.CreatedAt.Unix(),
			ParticipantType: m.ParticipantType,
			ParticipantID:   m.ParticipantID,
			Variant:         m.Variant,
			Converted:       m.Converted,
			Events:          make([]jsonEvent, len(r.Events)),
		}
		for j, e := range r.Events {
			jm.Events[j] = jsonEvent{Timestamp: e.CreatedAt.Unix(), Name: e.Name}
		}
		export.Memberships[i] = jm
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
