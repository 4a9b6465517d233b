package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Guilhem-Bonnet/streamrec/internal/app"
	"github.com/Guilhem-Bonnet/streamrec/internal/buildinfo"
)

const stampLayout = "2006-01-02 15:04"

func newHealthCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "État du serveur",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var h struct {
				Status       string `json:"status"`
				Recording    int    `json:"recording"`
				RecordingDir string `json:"recordingDir"`
				FreeBytes    uint64 `json:"freeBytes"`
			}
			b, err := opts.client().getJSON(cmd.Context(), "/health", &h)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeRawJSON(out, b)
			}
			fmt.Fprintf(out, "Status:     %s\n", h.Status)
			fmt.Fprintf(out, "Recording:  %d\n", h.Recording)
			if h.RecordingDir != "" {
				fmt.Fprintf(out, "Dir:        %s (%s free)\n", h.RecordingDir, humanize.Bytes(h.FreeBytes))
			}
			return nil
		},
	}
}

func newVersionCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version du client et du serveur",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var info buildinfo.Info
			b, err := opts.client().getJSON(cmd.Context(), "/version", &info)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeRawJSON(out, b)
			}
			fmt.Fprintf(out, "client: %s\n", buildinfo.Current())
			fmt.Fprintf(out, "server: %s\n", info)
			return nil
		},
	}
}

func newStationsCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stations",
		Short: "Gérer les stations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lister les stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stations []app.StationDTO
			b, err := opts.client().getJSON(cmd.Context(), "/stations", &stations)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeRawJSON(out, b)
			}
			if len(stations) == 0 {
				fmt.Fprintln(out, "No stations")
				return nil
			}
			rows := make([][]string, 0, len(stations))
			for _, st := range stations {
				rows = append(rows, []string{st.ID, st.Name, st.URL})
			}
			fmt.Fprintln(out, renderTable([]string{"ID", "Name", "URL"}, rows, nil))
			return nil
		},
	})

	var name string
	add := &cobra.Command{
		Use:   "add <id> <url>",
		Short: "Créer ou modifier une station",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"id": args[0], "name": name, "url": args[1]}
			b, err := opts.client().do(cmd.Context(), http.MethodPost, "/stations", body)
			if err != nil {
				return err
			}
			if opts.json {
				return writeRawJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Station %s saved\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Nom affiché")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Supprimer une station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.client().do(cmd.Context(), http.MethodDelete, "/stations/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Station %s deleted\n", args[0])
			return nil
		},
	})

	return cmd
}

func newScheduleCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Gérer les captures planifiées",
	}

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "Lister les captures planifiées",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, s := range statuses {
				q.Add("status", s)
			}
			path := "/schedule"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var entries []app.EntryDTO
			b, err := opts.client().getJSON(cmd.Context(), path, &entries)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeRawJSON(out, b)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "Nothing scheduled")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Station", "Start", "Duration", "Status", "Size", "Output"},
				scheduleRows(entries),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "Filtrer par statut (pending, active, completed, aborted)")
	cmd.AddCommand(list)

	var req app.EnqueueRequest
	var start string
	add := &cobra.Command{
		Use:   "add <station>",
		Short: "Planifier une capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseStart(start, time.Local)
			if err != nil {
				return err
			}
			req.StationID = args[0]
			req.StartTime = t
			b, err := opts.client().do(cmd.Context(), http.MethodPost, "/schedule", req)
			if err != nil {
				return err
			}
			if opts.json {
				return writeRawJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s at %s for %d min\n", args[0], t.Local().Format(stampLayout), req.DurationMin)
			return nil
		},
	}
	add.Flags().StringVar(&start, "start", "", "Début (RFC3339 ou \"2006-01-02 15:04\" heure locale)")
	add.Flags().IntVar(&req.DurationMin, "duration", 60, "Durée en minutes (< 1440)")
	add.Flags().StringVar(&req.RepeatRule, "repeat", "", "Règle cron de répétition (ex: \"0 8 * * 1-5\", @daily)")
	add.Flags().StringVar(&req.OutputPath, "output", "", "Nom du fichier de sortie")
	_ = add.MarkFlagRequired("start")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Supprimer une capture planifiée",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if _, err := opts.client().do(cmd.Context(), http.MethodDelete, "/schedule/"+strconv.FormatInt(id, 10), nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entry %d deleted\n", id)
			return nil
		},
	})

	return cmd
}

func newRecordingsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recordings",
		Short: "Captures en cours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var recs []app.RecordingSnapshot
			b, err := opts.client().getJSON(cmd.Context(), "/recordings", &recs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeRawJSON(out, b)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No recording in progress")
				return nil
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{
					strconv.FormatInt(r.EntryID, 10),
					r.StationID,
					string(r.Phase),
					formatProgress(r.RuntimeSec, r.PlannedSec),
					humanize.Bytes(uint64(r.Size)),
					r.OutputPath,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Station", "Phase", "Progress", "Size", "Output"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func scheduleRows(entries []app.EntryDTO) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		station := e.StationID
		if e.StationName != "" && e.StationName != e.StationID {
			station = e.StationName + " (" + e.StationID + ")"
		}
		if e.RepeatRule != "" {
			station += " ↻"
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			station,
			e.StartTime.Local().Format(stampLayout),
			(time.Duration(e.DurationMin) * time.Minute).String(),
			string(e.Status),
			humanize.Bytes(uint64(e.ObservedSize)),
			e.OutputPath,
		})
	}
	return rows
}

func formatProgress(runtimeSec, plannedSec int64) string {
	runtime := time.Duration(runtimeSec) * time.Second
	planned := time.Duration(plannedSec) * time.Second
	return runtime.String() + " / " + planned.String()
}

// parseStart accepte RFC3339 ou "2006-01-02 15:04" dans loc.
func parseStart(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(stampLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q (want RFC3339 or %q)", raw, stampLayout)
	}
	return t, nil
}
