package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
	"github.com/example/faceverify/internal/logging"
)

// InferenceClient talks to a remote inference service. It implements both
// face.Detector and face.Embedder.
type InferenceClient struct {
	conn          *grpc.ClientConn
	addr          string
	minConfidence float64
	timeout       time.Duration
	logger        *zap.Logger
}

// DialInference returns a ready-to-use client for the inference service at addr.
func DialInference(ctx context.Context, addr string, minConfidence float64, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*InferenceClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_inference", "", err)
		logger.Error("failed to dial inference service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &InferenceClient{
		conn:          conn,
		addr:          addr,
		minConfidence: minConfidence,
		timeout:       timeout,
		logger:        logger.Named("inference_client"),
	}, nil
}

func (c *InferenceClient) Name() string { return "remote:" + c.addr }

func (c *InferenceClient) Detect(ctx context.Context, rgb *imageprocessor.PixelImage) ([]face.RawDetection, error) {
	resp, err := c.invoke(ctx, detectMethod, rgb)
	if err != nil {
		return nil, err
	}
	return decodeDetections(resp), nil
}

func (c *InferenceClient) Analyze(ctx context.Context, rgb *imageprocessor.PixelImage) ([]face.RawFace, error) {
	resp, err := c.invoke(ctx, analyzeMethod, rgb)
	if err != nil {
		return nil, err
	}
	faces, err := decodeFaces(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.analyze", "", err)
	}
	return faces, nil
}

func (c *InferenceClient) invoke(ctx context.Context, method string, rgb *imageprocessor.PixelImage) (*structpb.Struct, error) {
	req, err := encodeImage(rgb, c.minConfidence)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode", "", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.invoke", "", err)
		c.logger.Error("inference call failed", zap.Error(wrapped), zap.String("method", method))
		return nil, wrapped
	}
	return resp, nil
}

// Close tears down the connection.
func (c *InferenceClient) Close() error {
	return c.conn.Close()
}
