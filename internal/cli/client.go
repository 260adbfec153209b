package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"s3mcp/internal/protocol"
)

// rpcClient is a minimal Streamable HTTP JSON-RPC client used by the status
// and tools commands to query a running server.
type rpcClient struct {
	endpoint   string
	httpClient *http.Client
	sessionID  string
	nextID     int
}

func newRPCClient(endpoint string) *rpcClient {
	return &rpcClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		nextID: 1,
	}
}

type clientResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *rpcClient) call(method string, params interface{}) (json.RawMessage, error) {
	if method != "initialize" && c.sessionID == "" {
		if _, err := c.call("initialize", map[string]interface{}{}); err != nil {
			return nil, fmt.Errorf("initialize session: %w", err)
		}
	}

	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID,
		"method":  method,
	}
	if params != nil {
		payload["params"] = params
	}
	c.nextID++

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set(protocol.MCPSessionHeader, c.sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if sessionID := resp.Header.Get(protocol.MCPSessionHeader); sessionID != "" {
		c.sessionID = sessionID
	}

	var parsed clientResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s failed: %s (code %d)", method, parsed.Error.Message, parsed.Error.Code)
	}
	return parsed.Result, nil
}

func (c *rpcClient) callTool(name string, arguments map[string]interface{}) (json.RawMessage, error) {
	return c.call("tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
}
