// Package starlink talks to the Starlink dish gRPC API. The dish exposes
// server reflection, so requests are built dynamically instead of carrying
// generated protobuf stubs for SpaceX's unversioned API surface.
package starlink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/linkward/linkward/pkg/logx"
)

// Client provides access to the Starlink dish gRPC API
type Client struct {
	host    string
	port    int
	timeout time.Duration
	logger  *logx.Logger
}

// NewClient creates a Starlink API client
func NewClient(host string, port int, timeout time.Duration, logger *logx.Logger) *Client {
	return &Client{
		host:    host,
		port:    port,
		timeout: timeout,
		logger:  logger,
	}
}

// DefaultClient creates a client with the stock dish address
func DefaultClient(logger *logx.Logger) *Client {
	return NewClient("192.168.100.1", 9200, 10*time.Second, logger)
}

// APIMethod names a request inside the Device/Handle envelope
type APIMethod string

const (
	MethodGetStatus      APIMethod = "get_status"
	MethodGetDiagnostics APIMethod = "get_diagnostics"
	MethodGetDeviceInfo  APIMethod = "get_device_info"
)

const handleMethod = "SpaceX.API.Device.Device/Handle"

// CallMethod invokes one API method and returns the raw JSON response
func (c *Client) CallMethod(ctx context.Context, method APIMethod) (string, error) {
	conn, err := grpc.DialContext(ctx, fmt.Sprintf("%s:%d", c.host, c.port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("failed to connect to dish: %w", err)
	}
	defer conn.Close()

	reflClient := grpcreflect.NewClient(ctx, grpc_reflection_v1alpha.NewServerReflectionClient(conn))
	defer reflClient.Reset()
	descSource := grpcurl.DescriptorSourceFromServer(ctx, reflClient)

	requestJSON := fmt.Sprintf(`{"%s":{}}`, string(method))
	parser := grpcurl.NewJSONRequestParser(strings.NewReader(requestJSON),
		grpcurl.AnyResolverFromDescriptorSource(descSource))

	var response strings.Builder
	formatter := grpcurl.NewJSONFormatter(false, grpcurl.AnyResolverFromDescriptorSource(descSource))
	handler := &grpcurl.DefaultEventHandler{
		Out:       &response,
		Formatter: formatter,
	}

	if err := grpcurl.InvokeRPC(ctx, descSource, conn, handleMethod, nil, handler, parser.Next); err != nil {
		return "", fmt.Errorf("dish rpc failed: %w", err)
	}
	return response.String(), nil
}

// GetStatus retrieves the current dish status
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.CallMethod(ctx, MethodGetStatus)
	if err != nil {
		return nil, err
	}
	var status StatusResponse
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &status, nil
}

// GetDiagnostics retrieves dish hardware diagnostics
func (c *Client) GetDiagnostics(ctx context.Context) (*DiagnosticsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.CallMethod(ctx, MethodGetDiagnostics)
	if err != nil {
		return nil, err
	}
	var diag DiagnosticsResponse
	if err := json.Unmarshal([]byte(raw), &diag); err != nil {
		return nil, fmt.Errorf("failed to parse diagnostics response: %w", err)
	}
	return &diag, nil
}

// IsAvailable reports whether the dish API answers at all
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.CallMethod(ctx, MethodGetDeviceInfo)
	return err == nil
}
