// Пакет filestore — файлы в одной плоской директории: загруженные изображения
// и резервные копии хранилища. Запись атомарная (temp → fsync → rename),
// имена файлов проверяются на выход за пределы директории.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — файл не найден.
	ErrNotFound = errors.New("файл не найден")
	// ErrInvalidName — недопустимое имя файла (пустое, с разделителями пути или ..).
	ErrInvalidName = errors.New("недопустимое имя файла")
)

// maxPrefixLength — ограничение длины префикса сгенерированного имени.
const maxPrefixLength = 50

// FileStore — управление файлами в директории dir.
type FileStore struct {
	dir string
}

// SaveResult — результат сохранения файла.
type SaveResult struct {
	// Name — имя файла в директории
	Name string
	// FullPath — путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// FileInfo — описание файла директории.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New создаёт FileStore, создавая директорию при необходимости.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir возвращает путь к директории.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path возвращает путь файла name на диске после проверки имени.
func (s *FileStore) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Save записывает данные из reader в файл name с подсчётом SHA-256 на лету.
// При ошибке временный файл удаляется, существующий файл не затрагивается.
func (s *FileStore) Save(reader io.Reader, name string) (*SaveResult, error) {
	fullPath, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Name:     name,
		FullPath: fullPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (s *FileStore) Open(name string) (*os.File, error) {
	fullPath, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}
	return f, nil
}

// Delete удаляет файл. Отсутствующий файл — ErrNotFound.
func (s *FileStore) Delete(name string) error {
	fullPath, err := s.Path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Stat возвращает описание файла.
func (s *FileStore) Stat(name string) (*FileInfo, error) {
	fullPath, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}
	return &FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List возвращает обычные файлы директории, для которых match возвращает true,
// отсортированные по имени. match == nil — все файлы.
func (s *FileStore) List(match func(name string) bool) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dir, err)
	}

	result := []FileInfo{}
	for _, e := range entries {
		if !e.Type().IsRegular() || (match != nil && !match(e.Name())) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		result = append(result, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// CreateTemp создаёт временный файл в директории по шаблону os.CreateTemp.
func (s *FileStore) CreateTemp(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return f, nil
}

// Probe проверяет, что в директорию можно писать: создаёт и удаляет пробный файл.
func (s *FileStore) Probe() error {
	f, err := s.CreateTemp(".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_, werr := f.WriteString("ok")
	cerr := f.Close()
	os.Remove(name)

	if werr != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", s.dir, werr)
	}
	if cerr != nil {
		return fmt.Errorf("директория %s недоступна для записи: %w", s.dir, cerr)
	}
	return nil
}

// ValidateName проверяет, что name — простое имя файла без компонентов пути.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// GenerateName генерирует уникальное имя файла.
// Формат: {prefix}_{timestamp}_{uuid8}.{ext}
// Пример: machines_12_20260221150405_a1b2c3d4.png
func GenerateName(prefix, ext string, at time.Time) string {
	prefix = Sanitize(prefix)
	if len(prefix) > maxPrefixLength {
		prefix = prefix[:maxPrefixLength]
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")

	ts := at.Format("20060102150405")
	uid := uuid.New().String()[:8]

	if ext != "" {
		return fmt.Sprintf("%s_%s_%s.%s", prefix, ts, uid, ext)
	}
	return fmt.Sprintf("%s_%s_%s", prefix, ts, uid)
}

// Sanitize оставляет в строке только ASCII-буквы, цифры, дефис и подчёркивание.
func Sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}
