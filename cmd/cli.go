package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Detect the most confident face in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return withEngine(cmd.Context(), func(engine *face.Engine) (any, error) {
			img, err := readImageFile(engine, args[0])
			if err != nil {
				return nil, err
			}
			return engine.DetectFace(cmd.Context(), img), nil
		})
	},
}

var countCmd = &cobra.Command{
	Use:   "count <image_path>",
	Short: "Count every face the detector reports in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return withEngine(cmd.Context(), func(engine *face.Engine) (any, error) {
			img, err := readImageFile(engine, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]int{"faces_detected": engine.CountFaces(cmd.Context(), img)}, nil
		})
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed <image_path>",
	Short: "Print the normalised embedding of the largest face in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return withEngine(cmd.Context(), func(engine *face.Engine) (any, error) {
			img, err := readImageFile(engine, args[0])
			if err != nil {
				return nil, err
			}
			return engine.GenerateEmbedding(cmd.Context(), img), nil
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <embedding_a.json> <embedding_b.json>",
	Short: "Compare two stored embeddings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		a, err := readEmbeddingFile(args[0])
		if err != nil {
			return err
		}
		b, err := readEmbeddingFile(args[1])
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(engine *face.Engine) (any, error) {
			return engine.CompareEmbeddings(a, b), nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <image_path> <reference.json>",
	Short: "Verify the face in an image against a stored reference embedding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		// An unreadable reference is passed on as empty and fails closed.
		reference, _ := os.ReadFile(args[1])
		return withEngine(cmd.Context(), func(engine *face.Engine) (any, error) {
			return engine.VerifyFace(cmd.Context(), image, reference), nil
		})
	},
}

func init() {
	rootCmd.AddCommand(detectCmd, countCmd, embedCmd, compareCmd, verifyCmd)
}

// withEngine loads the configured models, runs fn and prints its result as
// JSON on stdout.
func withEngine(ctx context.Context, fn func(engine *face.Engine) (any, error)) error {
	models := loadModels(ctx, cfg.ModelBackend)
	defer models.Close()

	result, err := fn(newEngine(models))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, result)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func readImageFile(engine *face.Engine, path string) (*imageprocessor.PixelImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, err := engine.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func readEmbeddingFile(path string) (face.Embedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read embedding: %w", err)
	}
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%s: embedding must be a JSON array of numbers: %w", path, err)
	}
	out := make(face.Embedding, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out, nil
}
