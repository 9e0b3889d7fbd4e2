// metrics.go — Prometheus метрики бизнес-операций.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// consumptionsWritten — число записанных записей журнала по операции.
	consumptionsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ft_consumptions_written_total",
			Help: "Количество записей журнала расхода по операции",
		},
		[]string{"op"},
	)

	// csvImportRows — строки CSV-импорта по виду и результату.
	csvImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ft_csv_import_rows_total",
			Help: "Строки CSV-импорта справочников",
		},
		[]string{"kind", "result"},
	)

	// backupsTotal — резервные копии по метке и результату.
	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ft_backups_total",
			Help: "Количество резервных копий по метке и результату",
		},
		[]string{"label", "result"},
	)

	// backupLastSuccess — время последней успешной резервной копии (unix).
	backupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ft_backup_last_success_timestamp",
			Help: "Unix-время последней успешной резервной копии",
		},
	)

	// statsCacheRequests — обращения к кэшу статистики (hit/miss).
	statsCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ft_stats_cache_requests_total",
			Help: "Обращения к кэшу статистики",
		},
		[]string{"result"},
	)
)
