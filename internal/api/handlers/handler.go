// handler.go — APIHandler собирает доменные handlers и регистрирует
// их маршруты в chi-роутере.
package handlers

import (
	"github.com/go-chi/chi/v5"
)

// APIHandler — единая точка регистрации всех endpoints.
type APIHandler struct {
	health      *HealthHandler
	reference   *ReferenceHandler
	consumption *ConsumptionHandler
	stats       *StatsHandler
	transfer    *TransferHandler
	upload      *UploadHandler
	maintenance *MaintenanceHandler
	backup      *BackupHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	health *HealthHandler,
	reference *ReferenceHandler,
	consumption *ConsumptionHandler,
	stats *StatsHandler,
	transfer *TransferHandler,
	upload *UploadHandler,
	maintenance *MaintenanceHandler,
	backup *BackupHandler,
) *APIHandler {
	return &APIHandler{
		health:      health,
		reference:   reference,
		consumption: consumption,
		stats:       stats,
		transfer:    transfer,
		upload:      upload,
		maintenance: maintenance,
		backup:      backup,
	}
}

// Routes регистрирует маршруты health, API и раздачи загруженных файлов.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	r.Handle("/static/uploads/*", h.upload.StaticFiles())

	r.Route("/api", func(r chi.Router) {
		r.Route("/reference", func(r chi.Router) {
			r.Get("/", h.reference.Snapshot)

			r.Route("/{kind}", func(r chi.Router) {
				r.Get("/", h.reference.List)
				r.Post("/", h.reference.Add)
				r.Post("/bulk-deactivate", h.reference.BulkDeactivate)
				r.Get("/{id}", h.reference.Get)
				r.Put("/{id}", h.reference.Update)
				r.Delete("/{id}", h.reference.Deactivate)
				r.Get("/{id}/usage", h.reference.Usage)
				r.Post("/{id}/replace-and-deactivate", h.reference.ReplaceAndDeactivate)
				r.Put("/{id}/machines", h.reference.SetMaterialMachines)
				r.Put("/{id}/status", h.reference.SetMachineStatus)
			})
		})

		r.Route("/consumptions", func(r chi.Router) {
			r.Get("/", h.consumption.Query)
			r.Post("/", h.consumption.Create)
			r.Post("/batch", h.consumption.CreateBatch)
			r.Get("/{id}", h.consumption.Get)
			r.Put("/{id}", h.consumption.Update)
			r.Delete("/{id}", h.consumption.Delete)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/summary", h.stats.Summary)
			r.Get("/timeline", h.stats.Timeline)
			r.Get("/top", h.stats.Top)
			r.Get("/activity", h.stats.Activity)
		})

		r.Get("/export/{file}", h.transfer.Export)
		r.Get("/templates/{file}", h.transfer.Template)
		r.Post("/import/{kind}", h.transfer.Import)

		r.Post("/uploads/images", h.upload.UploadImage)

		r.Post("/maintenance/reset", h.maintenance.Reset)
		r.Post("/maintenance/demo", h.maintenance.GenerateDemo)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/settings", h.backup.GetSettings)
			r.Put("/settings", h.backup.UpdateSettings)
			r.Post("/restore", h.backup.Restore)
			r.Get("/", h.backup.List)
			r.Post("/", h.backup.Create)
			r.Get("/{name}", h.backup.Download)
			r.Delete("/{name}", h.backup.Delete)
		})
	})
}
