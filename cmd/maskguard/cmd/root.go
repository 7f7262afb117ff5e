package cmd

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "maskguard",
	Short: "Mask compliance monitoring service and CLI",
	Long: `maskguard runs the mask detection monitoring service and provides
client commands for submitting video jobs and inspecting the violation log.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initClientConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./maskguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server URL (default from config or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initClientConfig resolves the server URL for the client commands.
func initClientConfig() {
	v := viper.New()
	v.SetEnvPrefix("MASKGUARD")
	v.AutomaticEnv()
	v.BindEnv("server_url", "MASKGUARD_SERVER_URL")

	if serverURL == "" {
		serverURL = v.GetString("server_url")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
}

// GetServerURL returns the configured API server URL without trailing slashes.
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the client used by all API commands.
func GetHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// NewAPIRequest creates an HTTP request against the configured server.
func NewAPIRequest(method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequest(method, GetServerURL()+path, body)
}
