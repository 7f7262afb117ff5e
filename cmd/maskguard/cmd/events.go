package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	eventsSource string
	eventsLabel  string
	eventsStart  string
	eventsEnd    string
	eventsLimit  int
	exportFile   string
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the violation event log",
	Long:  `Commands for listing, exporting, and summarizing logged mask violation events.`,
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged events",
	RunE:  runEventsList,
}

var eventsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export events as CSV",
	Long:  `Download the filtered event log in CSV format.`,
	RunE:  runEventsExport,
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize events by label and source",
	RunE:  runEventsStats,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsExportCmd)
	eventsCmd.AddCommand(eventsStatsCmd)

	for _, c := range []*cobra.Command{eventsListCmd, eventsExportCmd, eventsStatsCmd} {
		c.Flags().StringVar(&eventsSource, "source", "", "filter by source: live, image, video")
		c.Flags().StringVar(&eventsLabel, "label", "", "filter by label, e.g. NO_MASK")
		c.Flags().StringVar(&eventsStart, "start", "", "events at or after this RFC3339 time")
		c.Flags().StringVar(&eventsEnd, "end", "", "events before this RFC3339 time")
	}
	eventsListCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to return")
	eventsExportCmd.Flags().StringVar(&exportFile, "file", "", "write CSV to this file instead of stdout")
}

func eventsQuery() string {
	q := url.Values{}
	if eventsSource != "" {
		q.Set("source", eventsSource)
	}
	if eventsLabel != "" {
		q.Set("label", eventsLabel)
	}
	if eventsStart != "" {
		q.Set("start", eventsStart)
	}
	if eventsEnd != "" {
		q.Set("end", eventsEnd)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

type eventResponse struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	TrackID     string    `json:"track_id,omitempty"`
	SnapshotRef string    `json:"snapshot_ref,omitempty"`
}

func runEventsList(cmd *cobra.Command, args []string) error {
	query := eventsQuery()
	if query == "" {
		query = "?limit=" + strconv.Itoa(eventsLimit)
	} else {
		query += "&limit=" + strconv.Itoa(eventsLimit)
	}

	httpReq, err := NewAPIRequest("GET", "/api/events"+query, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Events []eventResponse `json:"events"`
		Count  int             `json:"count"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Source", "Label", "Confidence", "Track", "Snapshot")
	for _, e := range result.Events {
		track := e.TrackID
		if track == "" {
			track = "-"
		}
		snapshot := e.SnapshotRef
		if snapshot == "" {
			snapshot = "-"
		}
		table.Append(
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Source,
			e.Label,
			fmt.Sprintf("%.2f", e.Confidence),
			track,
			snapshot,
		)
	}
	table.Render()
	fmt.Printf("\nTotal events: %d\n", result.Count)
	return nil
}

func runEventsExport(cmd *cobra.Command, args []string) error {
	httpReq, err := NewAPIRequest("GET", "/api/events/export"+eventsQuery(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out io.Writer = os.Stdout
	if exportFile != "" {
		f, err := os.Create(exportFile)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportFile, err)
		}
		defer f.Close()
		out = f
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	if exportFile != "" {
		fmt.Printf("Exported events to %s\n", exportFile)
	}
	return nil
}

func runEventsStats(cmd *cobra.Command, args []string) error {
	httpReq, err := NewAPIRequest("GET", "/api/stats"+eventsQuery(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Total    int            `json:"total"`
		ByLabel  map[string]int `json:"by_label"`
		BySource map[string]int `json:"by_source"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Dimension", "Value", "Count")
	for label, count := range result.ByLabel {
		table.Append("label", label, strconv.Itoa(count))
	}
	for source, count := range result.BySource {
		table.Append("source", source, strconv.Itoa(count))
	}
	table.Render()
	fmt.Printf("\nTotal events: %d\n", result.Total)
	return nil
}
