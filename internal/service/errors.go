// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/arturkryukov/fabtrack/internal/repository"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflictOnImport — загруженный файл не является совместимым хранилищем.
	ErrConflictOnImport = errors.New("несовместимый файл хранилища")
	// ErrConfirmationMismatch — не передана точная фраза подтверждения.
	ErrConfirmationMismatch = errors.New("фраза подтверждения не совпадает")
	// ErrStorageIO — ошибка файловой системы (резервные копии, изображения).
	ErrStorageIO = errors.New("ошибка файлового хранилища")
)

// validationf возвращает ErrValidation с пояснением.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	return err
}
