package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configEnvironment string
	configOutput      string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management and recommendations",
	Long:  `Commands for generating service configuration based on hardware capabilities.`,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Generate recommended service configuration",
	Long: `Analyzes system hardware (CPU, RAM) and generates worker pool and
sampling parameters sized for this machine. Takes the deployment environment
(development, production) into account to provide safe defaults.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configRecommendCmd)

	configRecommendCmd.Flags().StringVarP(&configEnvironment, "environment", "e", "development",
		"Deployment environment: development, production")
	configRecommendCmd.Flags().StringVarP(&configOutput, "output-format", "o", "text",
		"Output format: text, json, yaml")
}

type ConfigRecommendation struct {
	Hardware        HardwareInfo  `json:"hardware" yaml:"hardware"`
	Recommendations ServiceConfig `json:"recommendations" yaml:"recommendations"`
	Rationale       string        `json:"rationale" yaml:"rationale"`
}

type HardwareInfo struct {
	CPUModel     string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAMBytes     uint64 `json:"ram_bytes" yaml:"ram_bytes"`
	RAMGB        string `json:"ram_gb" yaml:"ram_gb"`
	OS           string `json:"os" yaml:"os"`
	Architecture string `json:"architecture" yaml:"architecture"`
}

type ServiceConfig struct {
	WorkerPoolSize int `json:"worker_pool_size" yaml:"worker_pool_size"`
	JobQueueSize   int `json:"job_queue_size" yaml:"job_queue_size"`
	VideoSampleFPS int `json:"video_sample_fps" yaml:"video_sample_fps"`
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	hardware, err := detectHardware()
	if err != nil {
		return fmt.Errorf("failed to detect hardware: %w", err)
	}

	config := calculateRecommendations(hardware, configEnvironment)
	rationale := generateRationale(hardware, config, configEnvironment)

	recommendation := ConfigRecommendation{
		Hardware:        hardware,
		Recommendations: config,
		Rationale:       rationale,
	}
	return outputRecommendation(recommendation, configOutput)
}

func detectHardware() (HardwareInfo, error) {
	hw := HardwareInfo{
		CPUModel:     "Unknown",
		CPUThreads:   runtime.NumCPU(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		hw.CPUModel = infos[0].ModelName
	}
	vmem, err := mem.VirtualMemory()
	if err != nil {
		return hw, err
	}
	hw.RAMBytes = vmem.Total
	hw.RAMGB = fmt.Sprintf("%.1f GB", float64(vmem.Total)/(1<<30))
	return hw, nil
}

func calculateRecommendations(hw HardwareInfo, environment string) ServiceConfig {
	// Detection is the bottleneck; one worker per two threads keeps the
	// detector saturated without starving live sessions.
	workers := hw.CPUThreads / 2
	if environment == "development" {
		workers = workers / 2
	}
	if workers < 1 {
		workers = 1
	}
	if workers > 8 {
		workers = 8
	}

	sampleFPS := 5
	if hw.CPUThreads <= 2 {
		sampleFPS = 2
	}

	return ServiceConfig{
		WorkerPoolSize: workers,
		JobQueueSize:   workers * 32,
		VideoSampleFPS: sampleFPS,
	}
}

func generateRationale(hw HardwareInfo, config ServiceConfig, env string) string {
	envFactor := "100% (production environment)"
	if env == "development" {
		envFactor = "50% (development environment)"
	}
	return fmt.Sprintf(
		"Based on %d CPU threads and %s: recommended %d video workers "+
			"(capacity factor: %s) sampling %d frames per second",
		hw.CPUThreads,
		hw.RAMGB,
		config.WorkerPoolSize,
		envFactor,
		config.VideoSampleFPS,
	)
}

func outputRecommendation(rec ConfigRecommendation, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)

	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(rec)

	default: // text
		fmt.Println("Hardware Configuration:")
		fmt.Printf("  CPU: %s (%d threads)\n", rec.Hardware.CPUModel, rec.Hardware.CPUThreads)
		fmt.Printf("  RAM: %s\n", rec.Hardware.RAMGB)
		fmt.Printf("  OS: %s/%s\n", rec.Hardware.OS, rec.Hardware.Architecture)
		fmt.Println()

		fmt.Println("Recommended Configuration:")
		fmt.Printf("  worker_pool_size: %d\n", rec.Recommendations.WorkerPoolSize)
		fmt.Printf("  job_queue_size: %d\n", rec.Recommendations.JobQueueSize)
		fmt.Printf("  video_sample_fps: %d\n", rec.Recommendations.VideoSampleFPS)
		fmt.Println()

		fmt.Println("Rationale:")
		fmt.Printf("  %s\n", rec.Rationale)
		return nil
	}
}
