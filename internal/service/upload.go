// upload.go — загрузка изображений справочников: проверка расширения и размера,
// декодирование растровых форматов, уменьшение больших изображений,
// атомарное сохранение в директорию загрузок.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"

	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/storage/filestore"
)

// UploadURLPrefix — префикс URL, под которым раздаются загруженные файлы.
const UploadURLPrefix = "/static/uploads/"

// defaultUploadEntity — сущность по умолчанию, если форма её не передала.
const defaultUploadEntity = "general"

// allowedImageExt — допустимые расширения изображений.
var allowedImageExt = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true, "svg": true,
}

// UploadResult — результат загрузки изображения.
type UploadResult struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// UploadService — сервис загрузки изображений.
type UploadService struct {
	store    *filestore.FileStore
	refs     *ReferenceService
	maxBytes int64
	maxSide  int
	logger   *slog.Logger
	now      func() time.Time
}

// NewUploadService создаёт сервис загрузки изображений.
func NewUploadService(store *filestore.FileStore, refs *ReferenceService, maxBytes int64, maxSide int, logger *slog.Logger) *UploadService {
	return &UploadService{
		store:    store,
		refs:     refs,
		maxBytes: maxBytes,
		maxSide:  maxSide,
		logger:   logger.With(slog.String("component", "upload_service")),
		now:      time.Now,
	}
}

// Store возвращает файловое хранилище загрузок.
func (s *UploadService) Store() *filestore.FileStore {
	return s.store
}

// Upload сохраняет изображение filename из r. Если entity — вид справочника
// и строка entityID существует, её image_path обновляется.
func (s *UploadService) Upload(ctx context.Context, r io.Reader, filename, entity string, entityID int64) (*UploadResult, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedImageExt[ext] {
		return nil, validationf("недопустимый тип файла %q (png, jpg, jpeg, gif, webp, svg)", filename)
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения загруженного файла: %w", err)
	}
	if len(data) == 0 {
		return nil, validationf("пустой файл")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, validationf("файл больше %d байт", s.maxBytes)
	}

	data, err = s.normalize(data, ext)
	if err != nil {
		return nil, err
	}

	if entity == "" {
		entity = defaultUploadEntity
	}
	prefix := fmt.Sprintf("%s_%d", filestore.Sanitize(entity), entityID)
	name := filestore.GenerateName(prefix, ext, s.now())

	saved, err := s.store.Save(bytes.NewReader(data), name)
	if err != nil {
		return nil, storageIO(err)
	}
	result := &UploadResult{Name: saved.Name, Path: UploadURLPrefix + saved.Name, Size: saved.Size}

	if kind, err := model.ParseKind(entity); err == nil && entityID > 0 {
		if err := s.refs.SetImage(ctx, kind, entityID, result.Path); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	s.logger.Info("Изображение загружено",
		slog.String("name", result.Name),
		slog.String("entity", entity),
		slog.Int64("entity_id", entityID),
		slog.Int64("size", result.Size),
	)
	return result, nil
}

// normalize проверяет содержимое и уменьшает растровые изображения
// со стороной больше maxSide. Возвращает байты для сохранения.
func (s *UploadService) normalize(data []byte, ext string) ([]byte, error) {
	switch ext {
	case "svg":
		if !bytes.Contains(bytes.ToLower(data), []byte("<svg")) {
			return nil, validationf("файл не является SVG изображением")
		}
		return data, nil
	case "webp":
		if _, err := webp.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, validationf("файл не является WebP изображением")
		}
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, validationf("файл не является изображением: %v", err)
	}
	b := img.Bounds()
	if b.Dx() <= s.maxSide && b.Dy() <= s.maxSide {
		return data, nil
	}

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, validationf("неподдерживаемый формат %q", ext)
	}
	resized := imaging.Fit(img, s.maxSide, s.maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, fmt.Errorf("ошибка кодирования изображения: %w", err)
	}
	s.logger.Debug("Изображение уменьшено",
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()),
		slog.Int("max_side", s.maxSide),
	)
	return buf.Bytes(), nil
}
