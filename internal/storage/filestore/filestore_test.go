package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return store
}

// TestNew_CreatesDirectory проверяет создание директории.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads", "nested")

	store, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	if store.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, store.Dir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestSave проверяет сохранение файла с подсчётом SHA-256.
func TestSave(t *testing.T) {
	store := newStore(t)
	content := []byte("Données de test pour la vérification.")

	result, err := store.Save(bytes.NewReader(content), "machines_3.png")
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if result.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), result.Size)
	}
	sum := sha256.Sum256(content)
	if result.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum не совпадает: %s", result.Checksum)
	}

	data, err := os.ReadFile(result.FullPath)
	if err != nil {
		t.Fatalf("ошибка чтения файла: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает")
	}

	if _, err := os.Stat(result.FullPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать")
	}
}

// TestSave_InvalidName проверяет отказ для имён с компонентами пути.
func TestSave_InvalidName(t *testing.T) {
	store := newStore(t)

	for _, name := range []string{"", "..", "../escape.db", "a/b.png", `a\b.png`, "x..y"} {
		if _, err := store.Save(bytes.NewReader([]byte("x")), name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Save(%q): ожидается ErrInvalidName, получено %v", name, err)
		}
	}
}

// TestOpen проверяет чтение файла и ошибку для отсутствующего.
func TestOpen(t *testing.T) {
	store := newStore(t)
	content := []byte("read test data")

	if _, err := store.Save(bytes.NewReader(content), "read.txt"); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	f, err := store.Open("read.txt")
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("прочитанные данные не совпадают с записанными")
	}

	if _, err := store.Open("missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидается ErrNotFound, получено %v", err)
	}
}

// TestDelete проверяет удаление файла.
func TestDelete(t *testing.T) {
	store := newStore(t)

	if _, err := store.Save(bytes.NewReader([]byte("delete me")), "delete.txt"); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if err := store.Delete("delete.txt"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if _, err := store.Stat("delete.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("файл должен быть удалён: %v", err)
	}
	if err := store.Delete("delete.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидается ErrNotFound, получено %v", err)
	}
}

// TestList проверяет фильтр и сортировку по имени.
func TestList(t *testing.T) {
	store := newStore(t)

	for _, name := range []string{"fabtrack_manual_b.db", "fabtrack_auto_a.db", "notes.txt"} {
		if _, err := store.Save(bytes.NewReader([]byte(name)), name); err != nil {
			t.Fatalf("ошибка сохранения %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(store.Dir(), "sub.db"), 0o750); err != nil {
		t.Fatalf("ошибка создания поддиректории: %v", err)
	}

	files, err := store.List(func(name string) bool { return strings.HasSuffix(name, ".db") })
	if err != nil {
		t.Fatalf("ошибка List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ожидалось 2 файла, получено %d", len(files))
	}
	if files[0].Name != "fabtrack_auto_a.db" || files[1].Name != "fabtrack_manual_b.db" {
		t.Errorf("неверный порядок: %s, %s", files[0].Name, files[1].Name)
	}
	if files[0].Size != int64(len("fabtrack_auto_a.db")) {
		t.Errorf("размер: получено %d", files[0].Size)
	}
}

// TestProbe проверяет пробную запись в директорию.
func TestProbe(t *testing.T) {
	store := newStore(t)

	if err := store.Probe(); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	files, err := store.List(nil)
	if err != nil {
		t.Fatalf("ошибка List: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("пробный файл не удалён: %v", files)
	}
}

// TestGenerateName проверяет формат сгенерированного имени.
func TestGenerateName(t *testing.T) {
	at := time.Date(2026, 2, 21, 15, 4, 5, 0, time.UTC)
	name := GenerateName("machines_12", ".PNG", at)

	re := regexp.MustCompile(`^machines_12_20260221150405_[0-9a-f]{8}\.png$`)
	if !re.MatchString(name) {
		t.Errorf("неверный формат имени: %s", name)
	}
	if err := ValidateName(name); err != nil {
		t.Errorf("сгенерированное имя не проходит проверку: %v", err)
	}

	if other := GenerateName("machines_12", "png", at); other == name {
		t.Error("имена должны различаться за счёт uuid")
	}
}

// TestSanitize проверяет очистку строк для имени файла.
func TestSanitize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"hello world", "helloworld"},
		{"test-file_01", "test-file_01"},
		{"file@#$%", "file"},
		{"", "file"},
		{"../../etc", "etc"},
		{"Découpe", "Dcoupe"},
	}

	for _, tt := range tests {
		if got := Sanitize(tt.input); got != tt.expected {
			t.Errorf("Sanitize(%q): ожидалось %q, получено %q", tt.input, tt.expected, got)
		}
	}
}
