// Package builtin implements NEXUS3's nexus_* skills: the orchestration
// primitives an agent uses to reach back into its own server's pool — send a
// message to a sibling agent, check its status, cancel or destroy it, or
// shut the whole server down. Grounded on the original nexus3.skill.builtin
// package (nexus_send.py, nexus_status.py, nexus_cancel.py, nexus_destroy.py,
// nexus_shutdown.py). Every outbound call is validated against
// internal/ssrf's deny-list before it's dialed, since these skills are
// exactly the "any Nexus skill that reaches back to the pool" case spec
// §4.14's SSRF guard names.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus3/nexus3/internal/rpc"
	"github.com/nexus3/nexus3/internal/ssrf"
)

// defaultPort matches the CLI's own --port default, used when neither a
// call's "port" argument nor the services bag's own port entry is set.
const defaultPort = 7878

var httpClient = &http.Client{Timeout: 120 * time.Second}

// remoteCall validates targetURL against the SSRF deny-list, then posts a
// JSON-RPC 2.0 request for method/params and decodes the response.
func remoteCall(ctx context.Context, targetURL, token, method string, params any) (json.RawMessage, error) {
	if err := ssrf.ValidateOutboundURL(targetURL, ssrf.Options{AllowLocalhost: true}); err != nil {
		return nil, fmt.Errorf("nexus skill: %w", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("nexus skill: encode params: %w", err)
	}
	reqBody, err := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 1, Method: method, Params: paramsJSON})
	if err != nil {
		return nil, fmt.Errorf("nexus skill: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("nexus skill: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("nexus skill: %w", err)
	}
	defer httpResp.Body.Close()

	var resp rpc.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("nexus skill: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("nexus skill: %s: %s", method, resp.Error.Message)
	}
	return resp.Result, nil
}

// resolvePort picks the call's own "port" argument, falling back to the
// services bag's port (the server this agent itself runs under), then
// defaultPort.
func resolvePort(args map[string]any, services map[string]any) int {
	if p, ok := args["port"].(float64); ok && p > 0 {
		return int(p)
	}
	if p, ok := services["port"].(int); ok && p > 0 {
		return p
	}
	return defaultPort
}

// resolveToken reads the bearer token the hosting server requires from the
// services bag. A missing entry sends the request unauthenticated, which
// the target server will reject — that's the services wiring's mistake to
// fix, not something a skill should paper over.
func resolveToken(services map[string]any) string {
	t, _ := services["token"].(string)
	return t
}

func agentURL(port int, agentID string) string {
	return fmt.Sprintf("http://127.0.0.1:%d/agent/%s", port, agentID)
}

func globalURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/rpc", port)
}
