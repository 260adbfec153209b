package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"s3mcp/internal/config"
	"s3mcp/internal/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running server's stats tool",
	RunE:  runStatus,
}

var statusEndpoint string

func init() {
	statusCmd.Flags().StringVar(&statusEndpoint, "endpoint", "", "MCP endpoint URL (default derived from config)")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	endpoint, err := resolveEndpoint(statusEndpoint)
	if err != nil {
		return err
	}

	client := newRPCClient(endpoint)
	result, err := client.callTool(protocol.ToolNameStats, map[string]interface{}{})
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		fmt.Println(string(result))
		return nil
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StructuredContent map[string]interface{} `json:"structuredContent"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return fmt.Errorf("decode stats result: %w", err)
	}
	for _, item := range parsed.Content {
		if item.Text != "" {
			fmt.Println(item.Text)
		}
	}
	if pretty, err := json.MarshalIndent(parsed.StructuredContent, "", "  "); err == nil {
		fmt.Println(string(pretty))
	}
	return nil
}

func resolveEndpoint(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return fmt.Sprintf("http://%s%s", cfg.ListenAddr, cfg.MCPPath), nil
}
