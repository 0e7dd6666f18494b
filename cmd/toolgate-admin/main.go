// ABOUTME: Operator CLI for toolgate tool discovery and execution
// ABOUTME: Talks to the HTTP API with JWT authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
  _              _             _                      _           _
 | |_ ___   ___ | | __ _  __ _| |_ ___        __ _  __| |_ __ ___ (_)_ __
 | __/ _ \ / _ \| |/ _' |/ _' | __/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
 | || (_) | (_) | | (_| | (_| | ||  __/_____| (_| | (_| | | | | | | | | | |
  \__\___/ \___/|_|\__, |\__,_|\__\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
                   |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("TOOLGATE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("TOOLGATE_TOKEN")

	cmd := os.Args[1]
	args := os.Args[2:]

	c := &apiClient{baseURL: strings.TrimRight(baseURL, "/"), token: token}

	var err error
	switch cmd {
	case "tools":
		err = cmdTools(c, args)
	case "servers":
		err = cmdServers(c)
	case "call":
		err = cmdCall(c, args)
	case "stats":
		err = cmdStats(c)
	case "clear-cache":
		err = cmdClearCache(c, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: toolgate-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  tools [--refresh]            List discovered tools across all servers")
	fmt.Println("  servers                      Show per-server connection status")
	fmt.Println("  call <server-id> <tool> [json-args]   Execute a tool")
	fmt.Println("  stats                        Show tool cache statistics")
	fmt.Println("  clear-cache [--all]          Clear the tool cache")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  TOOLGATE_URL     Server base URL (default: http://localhost:8080)")
	fmt.Println("  TOOLGATE_TOKEN   JWT authentication token (required)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export TOOLGATE_TOKEN=\"$(toolgate token --user me --workspace main)\"")
	fmt.Println("  toolgate-admin tools")
	fmt.Println("  toolgate-admin call srv-123 search '{\"query\":\"golang\"}'")
	fmt.Println()
}

// apiClient is a thin authenticated HTTP client for the toolgate API.
type apiClient struct {
	baseURL string
	token   string
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Timeout: 60 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func cmdTools(c *apiClient, args []string) error {
	path := "/api/tools"
	for _, arg := range args {
		if arg == "--refresh" || arg == "-r" {
			path += "?refresh=true"
		} else {
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	var body struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			ServerID    string `json:"serverId"`
			ServerName  string `json:"serverName"`
		} `json:"tools"`
	}
	if err := c.do(http.MethodGet, path, nil, &body); err != nil {
		return err
	}

	if len(body.Tools) == 0 {
		fmt.Println("No tools discovered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSERVER\tDESCRIPTION")
	for _, tool := range body.Tools {
		desc := tool.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, tool.ServerName, desc)
	}
	return w.Flush()
}

func cmdServers(c *apiClient) error {
	var body struct {
		Servers []struct {
			ServerID  string `json:"serverId"`
			Name      string `json:"name"`
			Status    string `json:"status"`
			ToolCount int    `json:"toolCount"`
			Error     string `json:"error"`
		} `json:"servers"`
	}
	if err := c.do(http.MethodGet, "/api/servers", nil, &body); err != nil {
		return err
	}

	if len(body.Servers) == 0 {
		fmt.Println("No servers configured.")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTOOLS\tERROR")
	for _, srv := range body.Servers {
		status := green(srv.Status)
		if srv.Status != "connected" {
			status = red(srv.Status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", srv.ServerID, srv.Name, status, srv.ToolCount, srv.Error)
	}
	return w.Flush()
}

func cmdCall(c *apiClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: call <server-id> <tool> [json-args]")
	}

	arguments := map[string]any{}
	if len(args) > 2 {
		if err := json.Unmarshal([]byte(args[2]), &arguments); err != nil {
			return fmt.Errorf("parsing tool arguments: %w", err)
		}
	}

	req := map[string]any{
		"server_id": args[0],
		"name":      args[1],
		"arguments": arguments,
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := c.do(http.MethodPost, "/api/tools/call", req, &result); err != nil {
		return err
	}

	if result.IsError {
		color.Yellow("Tool reported an error:")
	}
	for _, block := range result.Content {
		if block.Type == "text" {
			fmt.Println(block.Text)
		}
	}
	return nil
}

func cmdStats(c *apiClient) error {
	var body struct {
		Cache struct {
			Hits      uint64 `json:"hits"`
			Misses    uint64 `json:"misses"`
			Evictions uint64 `json:"evictions"`
			Size      int    `json:"size"`
		} `json:"cache"`
	}
	if err := c.do(http.MethodGet, "/api/cache/stats", nil, &body); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Tool cache")
	fmt.Printf("  hits:      %d\n", body.Cache.Hits)
	fmt.Printf("  misses:    %d\n", body.Cache.Misses)
	fmt.Printf("  evictions: %d\n", body.Cache.Evictions)
	fmt.Printf("  size:      %d\n", body.Cache.Size)
	return nil
}

func cmdClearCache(c *apiClient, args []string) error {
	path := "/api/cache/clear"
	for _, arg := range args {
		if arg == "--all" {
			path += "?all=true"
		} else {
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if err := c.do(http.MethodPost, path, nil, nil); err != nil {
		return err
	}
	color.Green("Cache cleared.")
	return nil
}
