package grpcclient

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/imageprocessor"
)

// Field names of the google.protobuf.Struct messages exchanged with the
// inference service.
const (
	fieldWidth         = "width"
	fieldHeight        = "height"
	fieldChannels      = "channels"
	fieldPixels        = "pixels"
	fieldMinConfidence = "min_confidence"
	fieldDetections    = "detections"
	fieldFaces         = "faces"
)

func encodeImage(img *imageprocessor.PixelImage, minConfidence float64) (*structpb.Struct, error) {
	if !imageprocessor.Validate(img) {
		return nil, fmt.Errorf("invalid pixel buffer")
	}
	return structpb.NewStruct(map[string]any{
		fieldWidth:         img.Width(),
		fieldHeight:        img.Height(),
		fieldChannels:      img.Channels(),
		fieldPixels:        base64.StdEncoding.EncodeToString(img.Pix),
		fieldMinConfidence: minConfidence,
	})
}

func decodeImage(msg *structpb.Struct) (*imageprocessor.PixelImage, float64, error) {
	fields := msg.GetFields()
	w := int(fields[fieldWidth].GetNumberValue())
	h := int(fields[fieldHeight].GetNumberValue())
	c := int(fields[fieldChannels].GetNumberValue())
	pix, err := base64.StdEncoding.DecodeString(fields[fieldPixels].GetStringValue())
	if err != nil {
		return nil, 0, fmt.Errorf("decode pixels: %w", err)
	}

	var img *imageprocessor.PixelImage
	switch c {
	case 1:
		img = &imageprocessor.PixelImage{Shape: []int{h, w}, Order: imageprocessor.OrderGray, Pix: pix}
	case 3:
		img = &imageprocessor.PixelImage{Shape: []int{h, w, 3}, Order: imageprocessor.OrderRGB, Pix: pix}
	default:
		return nil, 0, fmt.Errorf("unsupported channel count %d", c)
	}
	if !imageprocessor.Validate(img) {
		return nil, 0, fmt.Errorf("pixel buffer does not match %dx%dx%d", h, w, c)
	}
	return img, fields[fieldMinConfidence].GetNumberValue(), nil
}

func encodeDetections(detections []face.RawDetection) (*structpb.Struct, error) {
	list := make([]any, 0, len(detections))
	for _, d := range detections {
		list = append(list, map[string]any{
			"score":  d.Score,
			"xmin":   d.Box.XMin,
			"ymin":   d.Box.YMin,
			"width":  d.Box.Width,
			"height": d.Box.Height,
		})
	}
	return structpb.NewStruct(map[string]any{fieldDetections: list})
}

func decodeDetections(msg *structpb.Struct) []face.RawDetection {
	values := msg.GetFields()[fieldDetections].GetListValue().GetValues()
	detections := make([]face.RawDetection, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		detections = append(detections, face.RawDetection{
			Score: f["score"].GetNumberValue(),
			Box: face.RelativeBox{
				XMin:   f["xmin"].GetNumberValue(),
				YMin:   f["ymin"].GetNumberValue(),
				Width:  f["width"].GetNumberValue(),
				Height: f["height"].GetNumberValue(),
			},
		})
	}
	return detections
}

func encodeFaces(faces []face.RawFace) (*structpb.Struct, error) {
	list := make([]any, 0, len(faces))
	for _, f := range faces {
		descriptor := make([]any, len(f.Descriptor))
		for i, v := range f.Descriptor {
			descriptor[i] = float64(v)
		}
		list = append(list, map[string]any{
			"bbox":      []any{f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]},
			"embedding": descriptor,
			"det_score": f.DetScore,
		})
	}
	return structpb.NewStruct(map[string]any{fieldFaces: list})
}

func decodeFaces(msg *structpb.Struct) ([]face.RawFace, error) {
	values := msg.GetFields()[fieldFaces].GetListValue().GetValues()
	faces := make([]face.RawFace, 0, len(values))
	for i, v := range values {
		f := v.GetStructValue().GetFields()
		box := f["bbox"].GetListValue().GetValues()
		if len(box) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values", i, len(box))
		}
		raw := f["embedding"].GetListValue().GetValues()
		descriptor := make([]float32, len(raw))
		for j, x := range raw {
			descriptor[j] = float32(x.GetNumberValue())
		}
		faces = append(faces, face.RawFace{
			BBox: [4]float64{
				box[0].GetNumberValue(), box[1].GetNumberValue(),
				box[2].GetNumberValue(), box[3].GetNumberValue(),
			},
			Descriptor: descriptor,
			DetScore:   f["det_score"].GetNumberValue(),
		})
	}
	return faces, nil
}
