package server

import (
	"bytes"
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/matt-riley/yomu/internal/core"
)

const (
	// JSONCodecName is the content-subtype clients select with
	// grpc.CallContentSubtype to talk to the benefit service.
	JSONCodecName = "json"

	benefitServiceName        = "yomu.v1.BenefitService"
	evaluateFullMethod        = "/" + benefitServiceName + "/Evaluate"
	validateBenefitFullMethod = "/" + benefitServiceName + "/ValidateBenefit"
	watchCatalogFullMethod    = "/" + benefitServiceName + "/WatchCatalog"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the benefit service messages as JSON. Numbers in untyped
// fields stay json.Number, matching the HTTP API.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}

func (jsonCodec) Name() string {
	return JSONCodecName
}

type ValidateBenefitRequest struct {
	Benefit core.BenefitRecord `json:"benefit"`
}

type ValidateBenefitResponse struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

// WatchCatalogRequest resumes the catalog stream after LastEventID. A non-empty
// EntityType limits the stream to "brand" or "benefit" events.
type WatchCatalogRequest struct {
	LastEventID int64  `json:"last_event_id,omitempty"`
	EntityType  string `json:"entity_type,omitempty"`
}

type CatalogEvent struct {
	EventID    int64           `json:"event_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// BenefitServiceServer is the server API for yomu.v1.BenefitService.
type BenefitServiceServer interface {
	Evaluate(context.Context, *EvaluateRequest) (*EvaluateResponse, error)
	ValidateBenefit(context.Context, *ValidateBenefitRequest) (*ValidateBenefitResponse, error)
	WatchCatalog(*WatchCatalogRequest, BenefitService_WatchCatalogServer) error
}

type BenefitService_WatchCatalogServer interface {
	Send(*CatalogEvent) error
	grpc.ServerStream
}

type benefitServiceWatchCatalogServer struct {
	grpc.ServerStream
}

func (x *benefitServiceWatchCatalogServer) Send(event *CatalogEvent) error {
	return x.ServerStream.SendMsg(event)
}

func RegisterBenefitServiceServer(s grpc.ServiceRegistrar, srv BenefitServiceServer) {
	s.RegisterService(&BenefitServiceDesc, srv)
}

// BenefitServiceDesc describes yomu.v1.BenefitService for grpc.Server.
var BenefitServiceDesc = grpc.ServiceDesc{
	ServiceName: benefitServiceName,
	HandlerType: (*BenefitServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: evaluateHandler},
		{MethodName: "ValidateBenefit", Handler: validateBenefitHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchCatalog", Handler: watchCatalogHandler, ServerStreams: true},
	},
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EvaluateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BenefitServiceServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BenefitServiceServer).Evaluate(ctx, req.(*EvaluateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func validateBenefitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ValidateBenefitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BenefitServiceServer).ValidateBenefit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: validateBenefitFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BenefitServiceServer).ValidateBenefit(ctx, req.(*ValidateBenefitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchCatalogHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchCatalogRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BenefitServiceServer).WatchCatalog(in, &benefitServiceWatchCatalogServer{stream})
}

// BenefitServiceClient calls yomu.v1.BenefitService with the JSON codec.
type BenefitServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewBenefitServiceClient(cc grpc.ClientConnInterface) *BenefitServiceClient {
	return &BenefitServiceClient{cc: cc}
}

func (c *BenefitServiceClient) Evaluate(ctx context.Context, in *EvaluateRequest, opts ...grpc.CallOption) (*EvaluateResponse, error) {
	out := new(EvaluateResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, evaluateFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BenefitServiceClient) ValidateBenefit(ctx context.Context, in *ValidateBenefitRequest, opts ...grpc.CallOption) (*ValidateBenefitResponse, error) {
	out := new(ValidateBenefitResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	if err := c.cc.Invoke(ctx, validateBenefitFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchCatalog opens the catalog stream. Call Recv until it returns an error.
func (c *BenefitServiceClient) WatchCatalog(ctx context.Context, in *WatchCatalogRequest, opts ...grpc.CallOption) (*CatalogWatchStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &BenefitServiceDesc.Streams[0], watchCatalogFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &CatalogWatchStream{stream: stream}, nil
}

type CatalogWatchStream struct {
	stream grpc.ClientStream
}

func (s *CatalogWatchStream) Recv() (*CatalogEvent, error) {
	event := new(CatalogEvent)
	if err := s.stream.RecvMsg(event); err != nil {
		return nil, err
	}
	return event, nil
}
