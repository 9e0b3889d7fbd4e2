package model

import "time"

// BackupFrequency — периодичность автоматического резервного копирования.
type BackupFrequency string

const (
	BackupOff    BackupFrequency = "off"
	BackupDaily  BackupFrequency = "daily"
	BackupWeekly BackupFrequency = "weekly"
)

// Period возвращает интервал между автоматическими копиями (0 — выключено).
func (f BackupFrequency) Period() time.Duration {
	switch f {
	case BackupDaily:
		return 24 * time.Hour
	case BackupWeekly:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Метки резервных копий (часть имени файла).
const (
	BackupLabelManual     = "manual"
	BackupLabelAuto       = "auto"
	BackupLabelPreRestore = "pre_restore"
	BackupLabelPreReset   = "pre_reset"
)

// BackupSettings — состояние расписания, хранимое в sidecar JSON.
type BackupSettings struct {
	Frequency  BackupFrequency `json:"frequency"`
	Retention  int             `json:"retention"`
	CustomPath string          `json:"custom_path"`
	LastRun    *time.Time      `json:"last_run,omitempty"`
}

// BackupInfo — описание файла резервной копии.
type BackupInfo struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
