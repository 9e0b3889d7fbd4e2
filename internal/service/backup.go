// backup.go — резервные копии хранилища: настройки расписания (sidecar JSON),
// создание через VACUUM INTO, ротация, скачивание, удаление, восстановление
// из загруженного файла и фоновое расписание.
package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/fabtrack/internal/database"
	"github.com/arturkryukov/fabtrack/internal/domain/model"
	"github.com/arturkryukov/fabtrack/internal/storage/filestore"
)

const (
	// DefaultRetention — число хранимых копий по умолчанию.
	DefaultRetention = 10
	// MaxRetention — максимальное число хранимых копий.
	MaxRetention = 365

	backupTimeLayout = "20060102_150405"
)

// backupNamePattern — имя файла резервной копии: fabtrack_{label}_{YYYYMMDD_HHMMSS}[_N].db
var backupNamePattern = regexp.MustCompile(`^fabtrack_(manual|auto|pre_restore|pre_reset)_(\d{8}_\d{6})(?:_\d+)?\.db$`)

// OffsiteStore — внешнее хранилище копий (S3). Ошибки внешнего хранилища
// не прерывают локальные операции.
type OffsiteStore interface {
	Upload(ctx context.Context, name string, body io.Reader) error
	Delete(ctx context.Context, name string) error
}

// BackupConfig — параметры менеджера резервных копий.
type BackupConfig struct {
	// DBPath — путь к файлу хранилища
	DBPath string
	// Dir — директория копий по умолчанию (если в настройках не задан свой путь)
	Dir string
	// SettingsPath — путь к sidecar JSON с настройками расписания
	SettingsPath string
	// CheckInterval — период проверки расписания
	CheckInterval time.Duration
}

// BackupService — менеджер резервных копий. Операции сериализуются мьютексом.
type BackupService struct {
	db      *sql.DB
	cfg     BackupConfig
	offsite OffsiteStore
	changes Invalidator
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBackupService создаёт менеджер резервных копий.
// offsite и changes могут быть nil.
func NewBackupService(db *sql.DB, cfg BackupConfig, offsite OffsiteStore, changes Invalidator, logger *slog.Logger) *BackupService {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	return &BackupService{
		db:      db,
		cfg:     cfg,
		offsite: offsite,
		changes: changes,
		logger:  logger.With(slog.String("component", "backup_service")),
		now:     time.Now,
	}
}

// storageIO оборачивает ошибку файловой системы в ErrStorageIO.
func storageIO(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, filestore.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, filestore.ErrInvalidName):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageIO, err)
}

// Settings возвращает текущие настройки расписания.
func (s *BackupService) Settings() (*model.BackupSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSettings()
}

// UpdateSettings проверяет и сохраняет настройки. Время последнего запуска сохраняется.
// Свой путь проверяется созданием директории и пробной записью.
func (s *BackupService) UpdateSettings(in model.BackupSettings) (*model.BackupSettings, error) {
	switch in.Frequency {
	case model.BackupOff, model.BackupDaily, model.BackupWeekly:
	default:
		return nil, validationf("недопустимая периодичность %q, допустимые: off, daily, weekly", in.Frequency)
	}
	if in.Retention < 1 || in.Retention > MaxRetention {
		return nil, validationf("число хранимых копий должно быть от 1 до %d", MaxRetention)
	}

	in.CustomPath = strings.TrimSpace(in.CustomPath)
	if in.CustomPath != "" {
		store, err := filestore.New(in.CustomPath)
		if err != nil {
			return nil, validationf("путь %s недоступен: %v", in.CustomPath, err)
		}
		if err := store.Probe(); err != nil {
			return nil, validationf("путь %s недоступен для записи: %v", in.CustomPath, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	in.LastRun = current.LastRun

	if err := s.saveSettings(&in); err != nil {
		return nil, err
	}

	s.logger.Info("Настройки резервного копирования обновлены",
		slog.String("frequency", string(in.Frequency)),
		slog.Int("retention", in.Retention),
		slog.String("custom_path", in.CustomPath),
	)
	return &in, nil
}

func (s *BackupService) loadSettings() (*model.BackupSettings, error) {
	st := &model.BackupSettings{Frequency: model.BackupOff, Retention: DefaultRetention}

	data, err := os.ReadFile(s.cfg.SettingsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return nil, storageIO(err)
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: повреждён файл настроек %s: %v", ErrStorageIO, s.cfg.SettingsPath, err)
	}

	if st.Frequency == "" {
		st.Frequency = model.BackupOff
	}
	if st.Retention < 1 || st.Retention > MaxRetention {
		st.Retention = DefaultRetention
	}
	return st, nil
}

func (s *BackupService) saveSettings(st *model.BackupSettings) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации настроек: %w", err)
	}

	store, err := filestore.New(filepath.Dir(s.cfg.SettingsPath))
	if err != nil {
		return storageIO(err)
	}
	if _, err := store.Save(bytes.NewReader(data), filepath.Base(s.cfg.SettingsPath)); err != nil {
		return storageIO(err)
	}
	return nil
}

// store возвращает директорию копий с учётом своего пути из настроек.
func (s *BackupService) store(st *model.BackupSettings) (*filestore.FileStore, error) {
	dir := s.cfg.Dir
	if st.CustomPath != "" {
		dir = st.CustomPath
	}
	store, err := filestore.New(dir)
	if err != nil {
		return nil, storageIO(err)
	}
	return store, nil
}

// Create создаёт резервную копию с меткой и применяет ротацию.
func (s *BackupService) Create(ctx context.Context, label string) (*model.BackupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, label)
}

func (s *BackupService) createLocked(ctx context.Context, label string) (*model.BackupInfo, error) {
	switch label {
	case model.BackupLabelManual, model.BackupLabelAuto, model.BackupLabelPreRestore, model.BackupLabelPreReset:
	default:
		return nil, validationf("недопустимая метка копии %q", label)
	}

	st, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := s.store(st)
	if err != nil {
		return nil, err
	}

	created := s.now()
	name, path, err := uniqueBackupName(store, label, created)
	if err != nil {
		backupsTotal.WithLabelValues(label, "error").Inc()
		return nil, err
	}

	// VACUUM INTO даёт согласованный снимок при параллельных читателях
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		backupsTotal.WithLabelValues(label, "error").Inc()
		os.Remove(path)
		return nil, fmt.Errorf("%w: ошибка создания копии %s: %v", ErrStorageIO, name, err)
	}

	fi, err := store.Stat(name)
	if err != nil {
		backupsTotal.WithLabelValues(label, "error").Inc()
		return nil, storageIO(err)
	}

	backupsTotal.WithLabelValues(label, "success").Inc()
	backupLastSuccess.Set(float64(created.Unix()))
	s.logger.Info("Резервная копия создана",
		slog.String("name", name),
		slog.String("label", label),
		slog.Int64("size", fi.Size),
	)

	s.uploadOffsite(ctx, store, name)
	s.prune(ctx, store, st.Retention)

	return &model.BackupInfo{Name: name, Label: label, SizeBytes: fi.Size, CreatedAt: created.Truncate(time.Second)}, nil
}

// uniqueBackupName подбирает свободное имя копии (суффикс _N при совпадении секунды).
func uniqueBackupName(store *filestore.FileStore, label string, at time.Time) (string, string, error) {
	base := fmt.Sprintf("fabtrack_%s_%s", label, at.Format(backupTimeLayout))
	for i := 1; i < 100; i++ {
		name := base + ".db"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.db", base, i)
		}
		path, err := store.Path(name)
		if err != nil {
			return "", "", storageIO(err)
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return name, path, nil
		}
	}
	return "", "", fmt.Errorf("%w: нет свободного имени для копии %s", ErrStorageIO, base)
}

func (s *BackupService) uploadOffsite(ctx context.Context, store *filestore.FileStore, name string) {
	if s.offsite == nil {
		return
	}
	f, err := store.Open(name)
	if err != nil {
		s.logger.Warn("Не удалось открыть копию для внешнего хранилища",
			slog.String("name", name), slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if err := s.offsite.Upload(ctx, name, f); err != nil {
		s.logger.Warn("Ошибка загрузки копии во внешнее хранилище",
			slog.String("name", name), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("Копия загружена во внешнее хранилище", slog.String("name", name))
}

// prune удаляет самые старые копии сверх retention.
func (s *BackupService) prune(ctx context.Context, store *filestore.FileStore, retention int) {
	backups, err := listBackups(store)
	if err != nil {
		s.logger.Warn("Ошибка ротации копий", slog.String("error", err.Error()))
		return
	}
	if len(backups) <= retention {
		return
	}

	// listBackups возвращает новые первыми
	for _, b := range backups[retention:] {
		if err := store.Delete(b.Name); err != nil {
			s.logger.Warn("Не удалось удалить старую копию",
				slog.String("name", b.Name), slog.String("error", err.Error()))
			continue
		}
		if s.offsite != nil {
			if err := s.offsite.Delete(ctx, b.Name); err != nil {
				s.logger.Warn("Не удалось удалить копию во внешнем хранилище",
					slog.String("name", b.Name), slog.String("error", err.Error()))
			}
		}
		s.logger.Info("Старая копия удалена", slog.String("name", b.Name))
	}
}

// listBackups возвращает копии директории, новые первыми.
func listBackups(store *filestore.FileStore) ([]model.BackupInfo, error) {
	files, err := store.List(backupNamePattern.MatchString)
	if err != nil {
		return nil, storageIO(err)
	}

	result := make([]model.BackupInfo, 0, len(files))
	for _, f := range files {
		m := backupNamePattern.FindStringSubmatch(f.Name)
		created, err := time.ParseInLocation(backupTimeLayout, m[2], time.Local)
		if err != nil {
			created = f.ModTime
		}
		result = append(result, model.BackupInfo{
			Name:      f.Name,
			Label:     m[1],
			SizeBytes: f.Size,
			CreatedAt: created,
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Name > result[j].Name
	})
	return result, nil
}

// List возвращает копии, новые первыми.
func (s *BackupService) List() ([]model.BackupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := s.store(st)
	if err != nil {
		return nil, err
	}
	return listBackups(store)
}

// checkBackupName принимает только имена, соответствующие шаблону копий.
func checkBackupName(name string) error {
	if !backupNamePattern.MatchString(name) {
		return validationf("недопустимое имя копии %q", name)
	}
	return nil
}

// Open открывает копию для скачивания. Вызывающий код обязан закрыть файл.
func (s *BackupService) Open(name string) (*os.File, error) {
	if err := checkBackupName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := s.store(st)
	if err != nil {
		return nil, err
	}
	f, err := store.Open(name)
	if err != nil {
		return nil, storageIO(err)
	}
	return f, nil
}

// Delete удаляет копию локально и во внешнем хранилище.
func (s *BackupService) Delete(ctx context.Context, name string) error {
	if err := checkBackupName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadSettings()
	if err != nil {
		return err
	}
	store, err := s.store(st)
	if err != nil {
		return err
	}
	if err := store.Delete(name); err != nil {
		return storageIO(err)
	}
	if s.offsite != nil {
		if err := s.offsite.Delete(ctx, name); err != nil {
			s.logger.Warn("Не удалось удалить копию во внешнем хранилище",
				slog.String("name", name), slog.String("error", err.Error()))
		}
	}

	s.logger.Info("Резервная копия удалена", slog.String("name", name))
	return nil
}

// Restore заменяет содержимое хранилища данными загруженного файла.
//
// Порядок:
//  1. Загрузка во временный файл в директории копий
//  2. Проверка: файл открывается как SQLite и содержит обязательные таблицы
//  3. Применение миграций к загруженному файлу
//  4. Копия pre_restore текущего хранилища
//  5. Замена содержимого всех таблиц в одной транзакции через ATTACH
//
// Возвращает описание копии pre_restore.
func (s *BackupService) Restore(ctx context.Context, upload io.Reader) (*model.BackupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	store, err := s.store(st)
	if err != nil {
		return nil, err
	}

	tmp, err := store.CreateTemp("restore-*.db")
	if err != nil {
		return nil, storageIO(err)
	}
	tmpPath := tmp.Name()
	defer removeSQLiteFiles(tmpPath)

	if _, err := io.Copy(tmp, upload); err != nil {
		tmp.Close()
		return nil, storageIO(fmt.Errorf("ошибка записи загруженного файла: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return nil, storageIO(err)
	}

	if err := verifyUpload(ctx, tmpPath); err != nil {
		return nil, err
	}
	if err := database.Migrate(tmpPath, s.logger); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConflictOnImport, err)
	}

	snapshot, err := s.createLocked(ctx, model.BackupLabelPreRestore)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать копию перед восстановлением: %w", err)
	}

	if err := copyFromAttached(ctx, s.db, tmpPath); err != nil {
		return nil, err
	}

	notifyChange(s.changes)
	s.logger.Warn("Хранилище восстановлено из загруженного файла",
		slog.String("pre_restore", snapshot.Name),
	)
	return snapshot, nil
}

// verifyUpload проверяет, что файл является хранилищем FabTrack.
func verifyUpload(ctx context.Context, path string) error {
	db, err := sql.Open(database.DriverName, "file:"+path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConflictOnImport, err)
	}
	defer db.Close()

	if err := database.VerifyCoreTables(ctx, db, "main"); err != nil {
		return fmt.Errorf("%w: %v", ErrConflictOnImport, err)
	}
	return nil
}

// copyFromAttached заменяет содержимое таблиц приложения данными присоединённого файла.
// ATTACH и транзакция выполняются на одном выделенном соединении пула.
func copyFromAttached(ctx context.Context, db *sql.DB, path string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения соединения: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS incoming`, path); err != nil {
		return fmt.Errorf("%w: ошибка присоединения файла: %v", ErrConflictOnImport, err)
	}
	defer conn.ExecContext(context.Background(), `DETACH DATABASE incoming`) //nolint:errcheck

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции восстановления: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
		return fmt.Errorf("ошибка отложенной проверки ключей: %w", err)
	}

	// Дочерние таблицы очищаются раньше родительских
	for i := len(database.AppTables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM main."+database.AppTables[i]); err != nil {
			return fmt.Errorf("ошибка очистки таблицы %s: %w", database.AppTables[i], err)
		}
	}

	for _, table := range database.AppTables {
		cols, err := sharedColumns(ctx, tx, table)
		if err != nil {
			return err
		}
		list := strings.Join(cols, ", ")
		query := fmt.Sprintf(`INSERT INTO main.%s (%s) SELECT %s FROM incoming.%s`, table, list, list, table)
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("ошибка копирования таблицы %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации восстановления: %w", err)
	}
	return nil
}

// sharedColumns возвращает колонки таблицы, присутствующие в обеих схемах.
func sharedColumns(ctx context.Context, tx *sql.Tx, table string) ([]string, error) {
	mainCols, err := tableColumns(ctx, tx, "main", table)
	if err != nil {
		return nil, err
	}
	incomingCols, err := tableColumns(ctx, tx, "incoming", table)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(incomingCols))
	for _, c := range incomingCols {
		present[c] = true
	}
	var shared []string
	for _, c := range mainCols {
		if present[c] {
			shared = append(shared, c)
		}
	}
	if len(shared) == 0 {
		return nil, fmt.Errorf("%w: таблица %s несовместима", ErrConflictOnImport, table)
	}
	return shared, nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, schema, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM pragma_table_info('%s', '%s')`, table, schema))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения колонок %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка чтения колонок %s.%s: %w", schema, table, err)
		}
		cols = append(cols, `"`+name+`"`)
	}
	return cols, rows.Err()
}

// removeSQLiteFiles удаляет файл базы вместе с журналами WAL.
func removeSQLiteFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		os.Remove(path + suffix)
	}
}

// Start запускает фоновую проверку расписания.
func (s *BackupService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)

	s.logger.Info("Расписание резервного копирования запущено",
		slog.String("interval", s.cfg.CheckInterval.String()),
	)
}

// Stop останавливает фоновую проверку и ждёт завершения текущего запуска.
func (s *BackupService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("Расписание резервного копирования остановлено")
}

func (s *BackupService) run(ctx context.Context) {
	defer close(s.done)

	// Первая проверка — сразу после старта
	s.runScheduled(ctx)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *BackupService) runScheduled(ctx context.Context) {
	info, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("Ошибка автоматического резервного копирования", slog.String("error", err.Error()))
		return
	}
	if info != nil {
		s.logger.Info("Автоматическая копия создана", slog.String("name", info.Name))
	}
}

// RunOnce создаёт копию auto, если расписание включено и с последнего запуска
// прошло больше периода. Возвращает nil, nil, если копия не требовалась.
func (s *BackupService) RunOnce(ctx context.Context) (*model.BackupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadSettings()
	if err != nil {
		return nil, err
	}
	period := st.Frequency.Period()
	if period == 0 {
		return nil, nil
	}
	now := s.now()
	if st.LastRun != nil && now.Sub(*st.LastRun) < period {
		return nil, nil
	}

	info, err := s.createLocked(ctx, model.BackupLabelAuto)
	if err != nil {
		return nil, err
	}

	st.LastRun = &now
	if err := s.saveSettings(st); err != nil {
		return nil, err
	}
	return info, nil
}
