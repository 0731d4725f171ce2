package output

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/disintegration/imaging"
	"github.com/ivlev/faceblur/internal/source"
)

func solid(c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestInPlaceOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "4.png")
	if err := imaging.Save(solid(color.NRGBA{255, 0, 0, 255}), path); err != nil {
		t.Fatal(err)
	}

	strategy := &InPlace{Quality: 95}
	if !strategy.Tracked() {
		t.Error("in-place output must be tracked")
	}
	loc, err := strategy.Write(context.Background(), source.Item{ID: 4, Path: path, Name: "4.png"}, solid(color.NRGBA{0, 0, 255, 255}))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if loc != path {
		t.Errorf("location = %s, want %s", loc, path)
	}

	got, err := imaging.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	r, _, b, _ := got.At(5, 5).RGBA()
	if r != 0 || b == 0 {
		t.Errorf("file was not overwritten, pixel = %v", got.At(5, 5))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestExportToDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "out")
	strategy := &Export{Sink: &DirSink{Dir: out}, Prefix: "blurred_", Quality: 95}
	if strategy.Tracked() {
		t.Error("export must not be tracked")
	}

	loc, err := strategy.Write(context.Background(), source.Item{Name: "a.JPG", Path: "/nowhere/a.JPG"}, solid(color.NRGBA{10, 20, 30, 255}))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if loc != filepath.Join(out, "blurred_a.JPG") {
		t.Errorf("location = %s", loc)
	}
	if _, err := imaging.Open(loc); err != nil {
		t.Errorf("exported file unreadable: %v", err)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := Encode(solid(color.NRGBA{A: 255}), "1.webp", 95)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

type fakeUploader struct {
	keys []string
	body []byte
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.keys = append(f.keys, aws.StringValue(in.Key))
	f.body, _ = io.ReadAll(in.Body)
	return &s3manager.UploadOutput{Location: "https://bucket.s3/" + aws.StringValue(in.Key)}, nil
}

func TestS3Sink(t *testing.T) {
	up := &fakeUploader{}
	sink := NewS3SinkWithUploader(up, S3Options{Bucket: "bucket", Prefix: "faces", UploadsPerSecond: 100})

	loc, err := sink.Put(context.Background(), "blurred_1.jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if len(up.keys) != 1 || up.keys[0] != "faces/blurred_1.jpeg" {
		t.Errorf("keys = %v", up.keys)
	}
	if string(up.body) != "jpeg-bytes" {
		t.Errorf("body = %q", up.body)
	}
	if loc != "https://bucket.s3/faces/blurred_1.jpeg" {
		t.Errorf("location = %s", loc)
	}
}

func TestS3SinkCancelled(t *testing.T) {
	sink := NewS3SinkWithUploader(&fakeUploader{}, S3Options{Bucket: "b", UploadsPerSecond: 0.001})
	ctx, cancel := context.WithCancel(context.Background())
	sink.Put(ctx, "x.jpeg", nil) // consumes the only token
	cancel()
	if _, err := sink.Put(ctx, "y.jpeg", nil); err == nil {
		t.Error("expected error from cancelled context")
	}
}
