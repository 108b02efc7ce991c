package grpcclient

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceverify/internal/face"
)

const (
	serviceName   = "faceinference.v1.FaceInference"
	detectMethod  = "/" + serviceName + "/Detect"
	analyzeMethod = "/" + serviceName + "/Analyze"
)

// InferenceServer is the server side of the inference service.
type InferenceServer interface {
	Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterInferenceServer exposes srv on s.
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
		{MethodName: "Analyze", Handler: analyzeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InferenceServer).Detect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: analyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InferenceServer).Analyze(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ModelServer serves locally loaded models over the inference service.
type ModelServer struct {
	detector face.ModelState[face.Detector]
	embedder face.ModelState[face.Embedder]
	logger   *zap.Logger
}

// NewModelServer wraps the given model states.
func NewModelServer(detector face.ModelState[face.Detector], embedder face.ModelState[face.Embedder], logger *zap.Logger) *ModelServer {
	return &ModelServer{detector: detector, embedder: embedder, logger: logger.Named("inference_server")}
}

func (s *ModelServer) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	detector, ok := s.detector.Get()
	if !ok {
		return nil, status.Error(codes.Unavailable, "face detector not available")
	}
	img, minConfidence, err := decodeImage(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	detections, err := detector.Detect(ctx, img)
	if err != nil {
		s.logger.Error("detect failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	var kept []face.RawDetection
	for _, d := range detections {
		if d.Score >= minConfidence {
			kept = append(kept, d)
		}
	}
	return encodeDetections(kept)
}

func (s *ModelServer) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	embedder, ok := s.embedder.Get()
	if !ok {
		return nil, status.Error(codes.Unavailable, "face recognizer not available")
	}
	img, _, err := decodeImage(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	faces, err := embedder.Analyze(ctx, img)
	if err != nil {
		s.logger.Error("analyze failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	return encodeFaces(faces)
}
