package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/beacon/internal/server"
)

// clientCommands returns the subcommands that talk to a running server's
// control API over --addr.
func clientCommands() []*cobra.Command {
	return []*cobra.Command{
		createCmd(),
		getCmd(),
		listCmd(),
		resultsCmd(),
		deleteCmd(),
		enableCmd(),
		disableCmd(),
		summaryCmd(),
	}
}

// --- API client ---

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: serverAddr,
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("contacting server: %w", err)
	}
	defer resp.Body.Close()

	var env server.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		if env.Error != "" {
			return errors.New(env.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid check id %q", arg)
	}
	return id, nil
}

// --- Commands ---

func createCmd() *cobra.Command {
	var (
		name     string
		kind     string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create <target>",
		Short: "Create a check and start it immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"name":         name,
				"kind":         kind,
				"target":       args[0],
				"interval_sec": int64(interval / time.Second),
			}
			var created server.CheckPayload
			if err := newAPIClient().do(http.MethodPost, "/api/checks", req, &created); err != nil {
				return err
			}
			printChecks(cmd.OutOrStdout(), created)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable check name")
	cmd.Flags().StringVar(&kind, "kind", "http", "check kind (http or script)")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "time between executions")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one check definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var c server.CheckPayload
			if err := newAPIClient().do(http.MethodGet, fmt.Sprintf("/api/checks/%d", id), nil, &c); err != nil {
				return err
			}
			printChecks(cmd.OutOrStdout(), c)
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var (
		disabled bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List check definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/checks?enabled=%t&limit=%d", !disabled, limit)
			var checks []server.CheckPayload
			if err := newAPIClient().do(http.MethodGet, path, nil, &checks); err != nil {
				return err
			}
			printChecks(cmd.OutOrStdout(), checks...)
			return nil
		},
	}
	cmd.Flags().BoolVar(&disabled, "disabled", false, "list disabled checks instead of enabled ones")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of checks to list")
	return cmd
}

func resultsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "results <id>",
		Short: "Show recent results for a check, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			path := fmt.Sprintf("/api/checks/%d/results?limit=%d", id, limit)
			var results []server.ResultPayload
			if err := newAPIClient().do(http.MethodGet, path, nil, &results); err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results to show")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Stop and delete a check (its history goes with it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var c server.CheckPayload
			if err := newAPIClient().do(http.MethodDelete, fmt.Sprintf("/api/checks/%d", id), nil, &c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted check %d (%s)\n", c.ID, c.Target)
			return nil
		},
	}
}

func enableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id>",
		Short: "Enable a check and start probing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var c server.CheckPayload
			if err := newAPIClient().do(http.MethodPost, fmt.Sprintf("/api/checks/%d/enable", id), nil, &c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enabled check %d\n", c.ID)
			return nil
		},
	}
}

func disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a check and stop probing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := newAPIClient().do(http.MethodPost, fmt.Sprintf("/api/checks/%d/disable", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disabled check %d\n", id)
			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the latest state of every check",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []server.SummaryEntry
			if err := newAPIClient().do(http.MethodGet, "/api/summary", nil, &entries); err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), entries)
			return nil
		},
	}
}

// --- Output ---

var (
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
)

func statusText(pass bool) string {
	if pass {
		return passColor.Sprint("pass")
	}
	return failColor.Sprint("fail")
}

func printChecks(out io.Writer, checks ...server.CheckPayload) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tTARGET\tINTERVAL\tENABLED")
	for _, c := range checks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n",
			c.ID,
			c.Name,
			c.Kind,
			c.Target,
			(time.Duration(c.IntervalSec) * time.Second).String(),
			c.Enabled,
		)
	}
	w.Flush()
}

func printResults(out io.Writer, results []server.ResultPayload) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tELAPSED\tSTARTED\tMESSAGE")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%dms\t%s\t%s\n",
			r.ID,
			statusText(r.Pass),
			r.ElapsedMs,
			r.StartedAt,
			r.Message,
		)
	}
	w.Flush()
}

func printSummary(out io.Writer, entries []server.SummaryEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tUPTIME\tLAST CHECKED\tMESSAGE")
	for _, e := range entries {
		status := e.Status
		switch status {
		case "pass":
			status = passColor.Sprint(status)
		case "fail":
			status = failColor.Sprint(status)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
			e.ID,
			e.Name,
			e.Kind,
			status,
			e.UptimePercent,
			e.LastChecked,
			e.Message,
		)
	}
	w.Flush()
}
