package cmd

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/grpcclient"
	"github.com/example/faceverify/internal/imageprocessor"
	"github.com/example/faceverify/internal/models/opencv"
)

var errBackendDisabled = errors.New("model backend disabled")

// modelSet holds the model states built at startup and whatever must be
// released on exit.
type modelSet struct {
	detector face.ModelState[face.Detector]
	embedder face.ModelState[face.Embedder]
	closers  []io.Closer
}

func (m *modelSet) Close() {
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i].Close(); err != nil {
			logger.Warn("failed to release model", zap.Error(err))
		}
	}
}

// loadModels never fails: a model that cannot be loaded is Unavailable and the
// service runs degraded.
func loadModels(ctx context.Context, backend string) *modelSet {
	set := &modelSet{
		detector: face.Unavailable[face.Detector](errBackendDisabled),
		embedder: face.Unavailable[face.Embedder](errBackendDisabled),
	}

	switch backend {
	case config.BackendOpenCV:
		detector, err := opencv.NewYuNetDetector(cfg.DetectorModelPath, cfg.MinDetectionConfidence, logger)
		if err != nil {
			logger.Warn("face detector not available", zap.Error(err))
			set.detector = face.Unavailable[face.Detector](err)
		} else {
			set.detector = face.Ready[face.Detector](detector)
			set.closers = append(set.closers, detector)
		}

		embedder, err := newArcFace()
		if err != nil {
			logger.Warn("face recognition model not available, using mock embeddings", zap.Error(err))
			set.embedder = face.Unavailable[face.Embedder](err)
		} else {
			set.embedder = face.Ready[face.Embedder](embedder)
			set.closers = append(set.closers, embedder)
		}

	case config.BackendGRPC:
		client, err := grpcclient.DialInference(ctx, cfg.InferenceAddr, cfg.MinDetectionConfidence, cfg.InferenceTimeout, logger)
		if err != nil {
			logger.Warn("inference service not available", zap.Error(err))
			set.detector = face.Unavailable[face.Detector](err)
			set.embedder = face.Unavailable[face.Embedder](err)
			break
		}
		set.detector = face.Ready[face.Detector](client)
		set.embedder = face.Ready[face.Embedder](client)
		set.closers = append(set.closers, client)

	default:
		logger.Warn("model backend disabled, detection unavailable and embeddings mocked")
	}

	return set
}

// newArcFace gives the embedder its own YuNet instance for localisation.
func newArcFace() (*opencv.ArcFaceEmbedder, error) {
	locator, err := opencv.NewYuNetDetector(cfg.DetectorModelPath, cfg.MinDetectionConfidence, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := opencv.NewArcFaceEmbedder(cfg.RecognizerModelPath, locator, logger)
	if err != nil {
		_ = locator.Close()
		return nil, err
	}
	return embedder, nil
}

func newEngine(models *modelSet) *face.Engine {
	return face.NewEngine(
		face.Options{
			MatchThreshold:         cfg.FaceConfidenceThreshold,
			MinDetectionConfidence: cfg.MinDetectionConfidence,
			MaxImageSize:           cfg.MaxImageSize,
		},
		models.detector,
		models.embedder,
		imageprocessor.NewDecoder(),
		logger,
	)
}
