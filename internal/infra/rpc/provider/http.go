package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vietddude/peercall/internal/core/rpcerr"
)

// HTTPCaller calls operations as JSON-RPC 2.0 requests over HTTP. The peer
// is the endpoint URL and the method is "<target>.<operation>".
type HTTPCaller struct {
	httpClient *http.Client
	nextID     atomic.Int64
	maxBody    int64
}

// MaxResponseBytes bounds the response body an HTTPCaller reads.
const MaxResponseBytes = 10 << 20

// NewHTTPCaller creates an HTTP caller. Per-call timeouts come from the
// request, so the client itself carries none.
func NewHTTPCaller() *HTTPCaller {
	return &HTTPCaller{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBody: MaxResponseBytes,
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes req.Operation on req.Peer.
func (c *HTTPCaller) Call(ctx context.Context, req Request) (any, error) {
	params := req.Args
	if params == nil {
		params = []any{}
	}

	jsonData, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  req.Target + "." + req.Operation,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, rpcerr.NewFault(rpcerr.FaultBadInput, fmt.Errorf("marshal request: %w", err))
	}

	ctx, cancel := withTimeout(ctx, req)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Peer, bytes.NewReader(jsonData))
	if err != nil {
		return nil, rpcerr.NewFault(rpcerr.FaultBadInput, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFault(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, transportFault(fmt.Errorf("read response: %w", err))
	}
	if int64(len(body)) > c.maxBody {
		return nil, rpcerr.NewFault(rpcerr.FaultRemote,
			fmt.Errorf("response exceeds %d bytes", c.maxBody))
	}

	switch {
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return nil, rpcerr.NewFault(rpcerr.FaultTimeout, fmt.Errorf("http %d", resp.StatusCode))
	// Throttled peers count as unavailable so a retry moves on.
	case resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, rpcerr.NewFault(rpcerr.FaultDisconnected, fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, rpcerr.NewFault(rpcerr.FaultRemote, fmt.Errorf("http %d: %s", resp.StatusCode, string(body)))
	}

	var rpcResp struct {
		Result any           `json:"result"`
		Error  *jsonRPCError `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, rpcerr.NewFault(rpcerr.FaultRemote, fmt.Errorf("parse response: %w", err))
	}

	if rpcResp.Error != nil {
		return nil, rpcerr.NewFault(rpcerr.FaultRemote, rpcResp.Error)
	}

	return rpcResp.Result, nil
}

// Close releases idle connections.
func (c *HTTPCaller) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func transportFault(err error) *rpcerr.Fault {
	if errors.Is(err, context.DeadlineExceeded) {
		return rpcerr.NewFault(rpcerr.FaultTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return rpcerr.NewFault(rpcerr.FaultTimeout, err)
	}
	return rpcerr.NewFault(rpcerr.FaultDisconnected, err)
}
