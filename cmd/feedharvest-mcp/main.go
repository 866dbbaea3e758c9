package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/feedharvest/models"
)

// pollInterval is how often start_collection checks a run it waits for.
const pollInterval = 10 * time.Second

func main() {
	_ = godotenv.Load()

	apiURL := os.Getenv("FEEDHARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:3000"
	}
	apiKey := os.Getenv("FEEDHARVEST_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "FEEDHARVEST_API_KEY is required")
		os.Exit(1)
	}

	c := &apiClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}

	s := server.NewMCPServer(
		"feedharvest",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	startTool := mcp.NewTool("start_collection",
		mcp.WithDescription("Start collecting the for-you feed seen by a sentinel account. Runs several browsers behind a regional proxy and stores the deduplicated videos. Only one collection can run at a time."),
		mcp.WithString("sentinel_user",
			mcp.Required(),
			mcp.Description("Name of the stored mole (session identity) to browse as"),
		),
		mcp.WithNumber("target_count",
			mcp.Description("Total number of videos to aim for (default: 10)"),
		),
		mcp.WithString("proxy_region",
			mcp.Description("Two-letter proxy egress region, e.g. 'RO' (default: IL)"),
		),
		mcp.WithNumber("concurrency",
			mcp.Description("Number of browsers (default: 4, max: 8)"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the collection finishes and return its outcome (default: false)"),
		),
	)
	s.AddTool(startTool, handleStartCollection(c))

	statusTool := mcp.NewTool("collection_status",
		mcp.WithDescription("Show whether a collection is running, the last finished run and the available moles."),
	)
	s.AddTool(statusTool, handleStatus(c))

	resultsTool := mcp.NewTool("get_results",
		mcp.WithDescription("Fetch a stored result set by key, either as video URLs or raw items."),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Result key, e.g. 'florin_2024-05-01T10-20-30-123Z.json'"),
		),
		mcp.WithBoolean("formatted",
			mcp.Description("Return one video URL per line instead of raw JSON (default: true)"),
		),
	)
	s.AddTool(resultsTool, handleGetResults(c))

	molesTool := mcp.NewTool("list_moles",
		mcp.WithDescription("List the stored session identities that can be used as sentinel users."),
	)
	s.AddTool(molesTool, handleListMoles(c))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiClient talks to the feedharvest control surface.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// do sends a request and decodes the JSON answer into out. Non-2xx answers
// are turned into errors carrying the API error code.
func (c *apiClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e models.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != nil {
			return fmt.Errorf("[%s] %s", e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func handleStartCollection(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sentinel, err := request.RequireString("sentinel_user")
		if err != nil {
			return mcp.NewToolResultError("sentinel_user is required"), nil
		}

		payload := map[string]interface{}{"sentinel_user": sentinel}
		args := request.GetArguments()
		if v, ok := args["target_count"]; ok {
			payload["target_count"] = v
		}
		if v, ok := args["concurrency"]; ok {
			payload["concurrency"] = v
		}
		if region := request.GetString("proxy_region", ""); region != "" {
			payload["proxy_region"] = strings.ToUpper(region)
		}

		var started models.CollectionResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/collections", payload, &started); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("collection not started: %v", err)), nil
		}

		if !request.GetBool("wait", false) {
			return mcp.NewToolResultText(fmt.Sprintf("Collection %s started.\nResults will be stored at: %s",
				started.RunID, started.Destination)), nil
		}

		outcome, err := waitForRun(ctx, c, started.RunID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("waiting for collection %s failed: %v", started.RunID, err)), nil
		}
		return mcp.NewToolResultText(describeOutcome(outcome)), nil
	}
}

// waitForRun polls the status endpoint until runID is no longer active.
func waitForRun(ctx context.Context, c *apiClient, runID string) (*models.RunOutcome, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var st models.StatusResponse
			if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
				return nil, err
			}
			if st.CurrentRun != nil && st.CurrentRun.ID == runID {
				continue
			}
			if st.LastOutcome != nil && st.LastOutcome.Run.ID == runID {
				return st.LastOutcome, nil
			}
			return nil, fmt.Errorf("run %s is no longer tracked", runID)
		}
	}
}

func describeOutcome(o *models.RunOutcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s for %s\n", o.Run.ID, o.Run.SentinelUser)
	fmt.Fprintf(&sb, "Browsers: %d (failed: %d), per-browser target: %.2f\n", o.Launched, o.WorkerFailures, o.PerWorkerTarget)
	fmt.Fprintf(&sb, "Videos: %d captured, %d unique\n", o.Captured, o.Unique)
	fmt.Fprintf(&sb, "Elapsed: %s\n", o.Elapsed.Round(time.Second))
	if o.Saved {
		fmt.Fprintf(&sb, "Stored as: %s", o.Run.Key)
	} else {
		fmt.Fprintf(&sb, "NOT stored: %s", o.SaveError)
	}
	return sb.String()
}

func handleStatus(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var st models.StatusResponse
		if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("status request failed: %v", err)), nil
		}

		var sb strings.Builder
		if st.IsCollectionInProgress && st.CurrentRun != nil {
			fmt.Fprintf(&sb, "Collection in progress: %s (sentinel %s, target %d, %d browsers, started %s)\n",
				st.CurrentRun.ID, st.CurrentRun.SentinelUser, st.CurrentRun.TargetCount,
				st.CurrentRun.Concurrency, st.CurrentRun.StartTime.Format(time.RFC3339))
		} else {
			sb.WriteString("No collection in progress.\n")
		}
		if st.LastOutcome != nil {
			sb.WriteString("\nLast run:\n")
			sb.WriteString(describeOutcome(st.LastOutcome))
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "\nMoles: %s", strings.Join(st.AvailableMoles, ", "))
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleGetResults(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := request.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError("key is required"), nil
		}
		formatted := request.GetBool("formatted", true)

		q := url.Values{}
		q.Set("key", key)
		q.Set("formatted", fmt.Sprint(formatted))

		var data struct {
			Count int             `json:"count"`
			Data  json.RawMessage `json:"data"`
		}
		if err := c.do(ctx, http.MethodGet, "/api/v1/data?"+q.Encode(), nil, &data); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("results request failed: %v", err)), nil
		}

		if formatted {
			var urls string
			if err := json.Unmarshal(data.Data, &urls); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to parse results: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("%d videos\n\n%s", data.Count, urls)), nil
		}
		return mcp.NewToolResultText(string(data.Data)), nil
	}
}

func handleListMoles(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var moles models.MolesResponse
		if err := c.do(ctx, http.MethodGet, "/api/v1/moles", nil, &moles); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("moles request failed: %v", err)), nil
		}
		if len(moles.AvailableMoles) == 0 {
			return mcp.NewToolResultText("No moles stored."), nil
		}
		return mcp.NewToolResultText(strings.Join(moles.AvailableMoles, "\n")), nil
	}
}
