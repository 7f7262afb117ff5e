package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	// Job submit flags
	submitSampleFPS int

	// Job status flags
	followStatus bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage video analysis jobs",
	Long:  `Commands for submitting, listing, and cancelling video analysis jobs.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <video-file>",
	Short: "Submit a video for analysis",
	Long:  `Upload a video file and schedule it for mask compliance analysis.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a specific job by its ID. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long:  `Cancel a queued or processing job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsSubmitCmd.Flags().IntVar(&submitSampleFPS, "sample-fps", 0, "frames per second to analyze (0 uses the server default)")
	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")
}

type jobResponse struct {
	ID             string      `json:"job_id"`
	VideoRef       string      `json:"video_ref"`
	SampleFPS      int         `json:"sample_fps"`
	Status         string      `json:"status"`
	Progress       int         `json:"progress"`
	Summary        *jobSummary `json:"summary,omitempty"`
	Error          string      `json:"error,omitempty"`
	OutputVideoRef string      `json:"output_video_ref,omitempty"`
	AnnotationsRef string      `json:"annotations_ref,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

type jobSummary struct {
	TotalFrames     int            `json:"total_frames"`
	ProcessedFrames int            `json:"processed_frames"`
	LabelCounts     map[string]int `json:"label_counts"`
	TotalAlerts     int            `json:"total_alerts"`
}

type jobsListResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	videoPath := args[0]
	f, err := os.Open(videoPath)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(videoPath))
	if err != nil {
		return fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read video: %w", err)
	}
	if submitSampleFPS > 0 {
		writer.WriteField("sample_fps", strconv.Itoa(submitSampleFPS))
	}
	if err := writer.Close(); err != nil {
		return err
	}

	httpReq, err := NewAPIRequest("POST", "/api/jobs/video", &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

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
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Job submitted: %s\n", result.JobID)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listAllJobs()
	}

	jobID := args[0]
	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			result, err := fetchJobStatus(jobID)
			if err != nil {
				return err
			}
			displayJobStatus(result)
			if result.Status == "completed" || result.Status == "failed" || result.Status == "cancelled" {
				break
			}
			time.Sleep(2 * time.Second)
		}
		return nil
	}

	result, err := fetchJobStatus(jobID)
	if err != nil {
		return err
	}
	displayJobStatus(result)
	return nil
}

func listAllJobs() error {
	httpReq, err := NewAPIRequest("GET", "/api/jobs", nil)
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

	var result jobsListResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Status", "Progress", "Alerts", "Error", "Created")
	for _, job := range result.Jobs {
		alerts := "-"
		if job.Summary != nil {
			alerts = strconv.Itoa(job.Summary.TotalAlerts)
		}
		errDisplay := "-"
		if job.Error != "" {
			errDisplay = job.Error
		}
		table.Append(
			truncateID(job.ID),
			job.Status,
			fmt.Sprintf("%d%%", job.Progress),
			alerts,
			errDisplay,
			job.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", len(result.Jobs))
	return nil
}

// truncateID shortens a job ID for table display. IDs are not required to be
// UUIDs, so short ones pass through unchanged.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fetchJobStatus(jobID string) (*jobResponse, error) {
	httpReq, err := NewAPIRequest("GET", "/api/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := GetHTTPClient()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result jobResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func displayJobStatus(result *jobResponse) {
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Job ID", result.ID)
	table.Append("Status", result.Status)
	table.Append("Progress", fmt.Sprintf("%d%%", result.Progress))
	table.Append("Sample FPS", strconv.Itoa(result.SampleFPS))
	table.Append("Created At", result.CreatedAt.Format(time.RFC3339))
	if result.StartedAt != nil {
		table.Append("Started At", result.StartedAt.Format(time.RFC3339))
	}
	if result.CompletedAt != nil {
		table.Append("Completed At", result.CompletedAt.Format(time.RFC3339))
	}
	if result.Summary != nil {
		table.Append("Frames", fmt.Sprintf("%d/%d", result.Summary.ProcessedFrames, result.Summary.TotalFrames))
		table.Append("Alerts", strconv.Itoa(result.Summary.TotalAlerts))
		for label, count := range result.Summary.LabelCounts {
			table.Append("  "+label, strconv.Itoa(count))
		}
	}
	if result.OutputVideoRef != "" {
		table.Append("Output Video", result.OutputVideoRef)
	}
	if result.AnnotationsRef != "" {
		table.Append("Annotations", result.AnnotationsRef)
	}
	if result.Error != "" {
		table.Append("Error", result.Error)
	}
	table.Render()
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	httpReq, err := NewAPIRequest("POST", "/api/jobs/"+jobID+"/cancel", nil)
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

	var result struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if result.Cancelled {
		fmt.Printf("Job %s cancelled\n", jobID)
	} else {
		fmt.Printf("Job %s could not be cancelled (already finished?)\n", jobID)
	}
	return nil
}
