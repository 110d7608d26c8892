package kernel

import (
	"context"
	"encoding/json"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/agentgovernor/kernel/pkg/policy"
	"github.com/agentgovernor/kernel/pkg/primitives"
)

// ExecuteRequest is the wire message for a tool-call RPC. There is no
// .proto source for this surface (see DESIGN.md), so the message is a
// hand-written Go struct carried over a JSON grpc codec instead of the
// usual protoc-generated type - same RPC shape, no code generation step.
type ExecuteRequest struct {
	ToolName string `json:"tool_name"`
	// ActionType is the wire form of primitives.ActionType ("API_CALL",
	// "FILE_READ", ...); empty defaults to a generic tool call. Callers
	// that proxy an outbound API call set this to "API_CALL" so Execute
	// routes the eventual execution through the Circuit Breaker (spec
	// §4.7) registered for that dependency, via Kernel.GuardOutbound.
	ActionType string                 `json:"action_type,omitempty"`
	Metadata   RequestMetadata        `json:"metadata"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ExecuteResponse is the wire message returned by the Execute RPC.
type ExecuteResponse struct {
	Decision PolicyDecisionMsg `json:"decision"`
	Result   json.RawMessage   `json:"result,omitempty"`
}

// PolicyDecisionMsg is the wire projection of policy.PolicyDecision.
type PolicyDecisionMsg struct {
	Allowed          bool    `json:"allowed"`
	Effect           string  `json:"effect"`
	MatchedRule      string  `json:"matched_rule"`
	Reason           string  `json:"reason"`
	RateLimited      bool    `json:"rate_limited"`
	RequiredApproval bool    `json:"required_approval"`
	RiskScore        float64 `json:"risk_score"`
	EvaluationTimeNs int64   `json:"evaluation_time_ns"`
	RegexTimeout     bool    `json:"regex_timeout"`
}

func decisionToMsg(d policy.PolicyDecision) PolicyDecisionMsg {
	return PolicyDecisionMsg{
		Allowed:          d.Allowed,
		Effect:           d.Effect.String(),
		MatchedRule:      d.MatchedRule,
		Reason:           d.Reason,
		RateLimited:      d.RateLimited,
		RequiredApproval: d.RequiredApproval,
		RiskScore:        d.RiskScore,
		EvaluationTimeNs: int64(d.EvaluationMS * 1e6),
		RegexTimeout:     d.RegexTimeoutSignal,
	}
}

// AgentServiceServer is the gRPC service interface the Kernel implements -
// one tool call in, one policy-gated response out.
type AgentServiceServer interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

// AgentService_ServiceDesc is the hand-written grpc.ServiceDesc standing in
// for the protoc-generated one (no .proto source exists for this surface).
var AgentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "agentgovernor.kernel.v1.AgentService",
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    _AgentService_Execute_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/kernel/grpcserver.go",
}

func _AgentService_Execute_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/agentgovernor.kernel.v1.AgentService/Execute",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentServiceServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterAgentServiceServer wires srv into s the way protoc-gen-go-grpc's
// generated registration function would.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentService_ServiceDesc, srv)
}

// jsonCodec is a grpc/encoding.Codec that marshals messages as JSON instead
// of protobuf, so the hand-written messages above need no .proto/protoc
// toolchain at all.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ToolExecutor performs the actual tool invocation once the Policy Engine
// has allowed it. Production deployments wrap the agent sandbox's exec
// path; tests use a stub.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, parameters map[string]interface{}) (interface{}, error)
}

// GRPCServer exposes the Kernel's AgentService over gRPC. It is the
// network front door: every RPC is evaluated by the Kernel before
// toolExecutor ever runs.
type GRPCServer struct {
	kernel       *Kernel
	toolExecutor ToolExecutor
	grpcServer   *grpc.Server
}

// GRPCServerOption configures a GRPCServer.
type GRPCServerOption func(*GRPCServer)

// WithToolExecutor wires the tool-invocation backend.
func WithToolExecutor(exec ToolExecutor) GRPCServerOption {
	return func(s *GRPCServer) { s.toolExecutor = exec }
}

// NewGRPCServer constructs a GRPCServer bound to k, registering the
// AgentService with the JSON codec forced for every call (ForceServerCodec
// bypasses grpc-go's default protobuf codec entirely).
func NewGRPCServer(k *Kernel, opts ...GRPCServerOption) *GRPCServer {
	s := &GRPCServer{kernel: k}
	for _, opt := range opts {
		opt(s)
	}

	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	RegisterAgentServiceServer(s.grpcServer, s)
	return s
}

// SetToolExecutor swaps the tool-invocation backend at runtime.
func (s *GRPCServer) SetToolExecutor(exec ToolExecutor) {
	s.toolExecutor = exec
}

// Serve blocks, accepting RPCs on lis until GracefulStop is called.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop waits for in-flight RPCs to finish, then stops the server.
func (s *GRPCServer) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Execute is the AgentServiceServer implementation: extract identity,
// submit to the Kernel's governance pipeline, and only on ALLOW invoke the
// tool executor.
func (s *GRPCServer) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req.ToolName == "" {
		return nil, status.Error(codes.InvalidArgument, "tool_name is required")
	}

	actionType := primitives.ActionToolCallGeneric
	if req.ActionType != "" {
		actionType = primitives.ParseActionType(req.ActionType)
	}

	decision, err := s.kernel.Submit(ctx, req.Metadata, req.ToolName, actionType, req.Parameters)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "policy evaluation failed: %v", err)
	}

	if !decision.Allowed {
		return nil, status.Error(codes.PermissionDenied, decision.Reason)
	}

	resp := &ExecuteResponse{Decision: decisionToMsg(decision)}

	if s.toolExecutor != nil {
		var result interface{}
		exec := func(ctx context.Context) error {
			r, execErr := s.toolExecutor.Execute(ctx, req.ToolName, req.Parameters)
			result = r
			return execErr
		}

		if actionType == primitives.ActionAPICall {
			err = s.kernel.GuardOutbound(ctx, req.ToolName, exec)
		} else {
			err = exec(ctx)
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "tool execution failed: %v", err)
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "result encoding failed: %v", err)
		}
		resp.Result = raw
	}

	return resp, nil
}

// PolicyStats returns the underlying Policy Engine's cache statistics, for
// health/metrics endpoints.
func (s *GRPCServer) PolicyStats() (cacheHits, cacheMisses uint64, hitRate float64, loadedPolicies int) {
	return s.kernel.Stats()
}
