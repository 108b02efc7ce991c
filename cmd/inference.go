package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/grpcclient"
)

var inferenceListen string

var inferenceCmd = &cobra.Command{
	Use:   "inference",
	Short: "Serve the local OpenCV models over gRPC for remote engines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		models := loadModels(ctx, config.BackendOpenCV)
		defer models.Close()

		lis, err := net.Listen("tcp", inferenceListen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", inferenceListen, err)
		}

		srv := grpc.NewServer()
		grpcclient.RegisterInferenceServer(srv, grpcclient.NewModelServer(models.detector, models.embedder, logger))

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Serve(lis)
		}()
		logger.Info("inference service listening",
			zap.String("addr", lis.Addr().String()),
			zap.Bool("detector", models.detector.Available()),
			zap.Bool("embedder", models.embedder.Available()),
		)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			logger.Info("stopping inference service")
			srv.GracefulStop()
			return nil
		}
	},
}

func init() {
	inferenceCmd.Flags().StringVarP(&inferenceListen, "listen", "l", ":50051", "Address to serve the inference API on")
	rootCmd.AddCommand(inferenceCmd)
}
