package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/storage/filestore"
)

func newUploadService(t *testing.T, env *testEnv, maxBytes int64, maxSide int) *UploadService {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return NewUploadService(store, env.refs, maxBytes, maxSide, env.logger)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestUploadService_StoresAndLinksImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := newUploadService(t, env, 1<<20, 1600)
	machine := env.mustAdd(t, &model.Machine{Name: "Formech 450DT"})

	result, err := svc.Upload(ctx, bytes.NewReader(pngBytes(t, 40, 30)), "photo.PNG", "machines", machine)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	re := regexp.MustCompile(`^/static/uploads/machines_\d+_\d{14}_[0-9a-f]{8}\.png$`)
	if !re.MatchString(result.Path) {
		t.Errorf("Path = %q", result.Path)
	}
	if _, err := svc.Store().Stat(result.Name); err != nil {
		t.Errorf("файл не сохранён: %v", err)
	}

	ref, _ := env.refs.Get(ctx, model.KindMachine, machine)
	if got := ref.(*model.Machine).ImagePath; got != result.Path {
		t.Errorf("ImagePath = %q, ожидается %q", got, result.Path)
	}
}

func TestUploadService_UnknownEntityOnlyStores(t *testing.T) {
	env := newTestEnv(t)
	svc := newUploadService(t, env, 1<<20, 1600)

	result, err := svc.Upload(context.Background(), bytes.NewReader(pngBytes(t, 8, 8)), "logo.png", "", 0)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.HasPrefix(result.Name, "general_0_") {
		t.Errorf("Name = %q, ожидается префикс general_0_", result.Name)
	}

	// Несуществующая строка справочника не ошибка: файл сохраняется
	if _, err := svc.Upload(context.Background(), bytes.NewReader(pngBytes(t, 8, 8)), "logo.png", "classes", 9999); err != nil {
		t.Errorf("Upload: %v", err)
	}
}

func TestUploadService_Downscales(t *testing.T) {
	env := newTestEnv(t)
	svc := newUploadService(t, env, 1<<20, 64)

	result, err := svc.Upload(context.Background(), bytes.NewReader(pngBytes(t, 200, 100)), "big.png", "materials", 0)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	f, err := svc.Store().Open(result.Name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	img, err := imaging.Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("размер = %dx%d, ожидается 64x32", b.Dx(), b.Dy())
	}
}

func TestUploadService_Validation(t *testing.T) {
	env := newTestEnv(t)
	svc := newUploadService(t, env, 512, 1600)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"недопустимое расширение", "script.exe", []byte("MZ")},
		{"без расширения", "image", pngBytes(t, 4, 4)},
		{"не изображение", "fake.png", []byte("pas une image")},
		{"не webp", "fake.webp", []byte("RIFF....WEBP")},
		{"не svg", "fake.svg", []byte("<html></html>")},
		{"слишком большой", "big.svg", []byte("<svg>" + strings.Repeat(" ", 600) + "</svg>")},
		{"пустой", "empty.png", nil},
	}
	for _, tt := range tests {
		if _, err := svc.Upload(ctx, bytes.NewReader(tt.data), tt.filename, "classes", 0); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: ожидается ErrValidation, получено %v", tt.name, err)
		}
	}

	files, _ := svc.Store().List(nil)
	if len(files) != 0 {
		t.Errorf("отклонённые файлы не должны сохраняться: %v", files)
	}

	if _, err := svc.Upload(ctx, strings.NewReader(`<svg xmlns="http://www.w3.org/2000/svg"/>`), "icon.svg", "activity_types", 0); err != nil {
		t.Errorf("корректный SVG: %v", err)
	}
}
