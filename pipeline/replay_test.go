package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/carewatch/mot"
	"github.com/LdDl/carewatch/registry"
)

func TestReplayFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "script.jsonl")
	script := `{"camera": "cam-1", "boxes": [{"x1": 10, "y1": 20, "x2": 50, "y2": 120, "conf": 0.8, "role": "staff", "signature": [0, 1]}]}`
	require.NoError(t, os.WriteFile(path, []byte(script+"\n"), 0o644))

	source := NewReplayFile(path)
	ctx := context.Background()
	_, err := source.Read(ctx)
	assert.Error(t, err, "read before open")

	require.NoError(t, source.Open(ctx))
	assert.Error(t, source.Open(ctx), "double open")

	frame, err := source.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, "cam-1", frame.CameraID)

	detections, err := source.Detect(frame)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, mot.NewRect(10, 20, 40, 100), detections[0].BBox)
	assert.Equal(t, 0.8, detections[0].Confidence)

	assert.Equal(t, registry.RoleStaff, source.Classify(frame, detections[0].BBox))
	assert.Equal(t, registry.RoleUnknown, source.Classify(frame, mot.NewRect(0, 0, 1, 1)))
	assert.Equal(t, []float64{0, 1}, []float64(source.Extract(frame, detections[0].BBox)))
	assert.True(t, source.Extract(frame, mot.NewRect(0, 0, 1, 1)).IsZero())

	_, err = source.Read(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)

	// Stale frame is rejected
	_, err = source.Detect(Frame{Seq: 7})
	assert.Error(t, err)

	require.NoError(t, source.Close())
	assert.False(t, source.Opened())
}

func TestReplayErrors(t *testing.T) {
	t.Parallel()

	source := NewReplayReader(strings.NewReader("{\"error\": \"capture\"}\n{\"error\": \"detect\"}\nnot json\n"))
	ctx := context.Background()
	require.NoError(t, source.Open(ctx))

	_, err := source.Read(ctx)
	assert.ErrorIs(t, err, ErrScriptedCapture)

	frame, err := source.Read(ctx)
	require.NoError(t, err)
	_, err = source.Detect(frame)
	assert.ErrorIs(t, err, ErrScriptedDetect)

	_, err = source.Read(ctx)
	assert.ErrorContains(t, err, "parse replay line 3")

	assert.Error(t, NewReplayFile(filepath.Join(t.TempDir(), "missing.jsonl")).Open(ctx))
}

func TestUniformClassifier(t *testing.T) {
	t.Parallel()

	paint := func(c color.Color) image.Image {
		img := image.NewRGBA(image.Rect(0, 0, 200, 200))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
		return img
	}
	classifier := DefaultUniformClassifier()
	box := mot.NewRect(50, 20, 60, 160)

	scrubs := Frame{Image: paint(color.RGBA{R: 40, G: 160, B: 60, A: 255})}
	gown := Frame{Image: paint(color.RGBA{R: 230, G: 230, B: 235, A: 255})}
	coat := Frame{Image: paint(color.RGBA{R: 120, G: 20, B: 20, A: 255})}

	assert.Equal(t, registry.RoleStaff, classifier.Classify(scrubs, box))
	assert.Equal(t, registry.RolePatient, classifier.Classify(gown, box))
	assert.Equal(t, registry.RoleUnknown, classifier.Classify(coat, box))
	assert.Equal(t, registry.RoleUnknown, classifier.Classify(Frame{}, box))
	assert.Equal(t, registry.RoleUnknown, classifier.Classify(scrubs, mot.NewRect(500, 500, 10, 10)))
}
