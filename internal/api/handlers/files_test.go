package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestTransferHandler_TemplateAndImport(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/templates/classes.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "modele_classes.csv") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(rec.Body.String(), "\xef\xbb\xbfname\n") {
		t.Errorf("шаблон = %q", rec.Body.String())
	}

	var result struct {
		Imported int      `json:"imported"`
		Errors   []string `json:"errors"`
	}
	env := expectStatus(t, api.upload(t, "/api/import/classes", "classes.csv", rec.Body.Bytes(), nil), http.StatusOK)
	dataInto(t, env, &result)
	if result.Imported != 3 || len(result.Errors) != 0 {
		t.Errorf("импорт = %+v", result)
	}

	var list []struct {
		Name string `json:"name"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/reference/classes", ""), http.StatusOK), &list)
	if len(list) != 3 {
		t.Errorf("классов = %d, ожидается 3", len(list))
	}

	expectError(t, api.upload(t, "/api/import/classes", "bad.csv", []byte("nom\n501\n"), nil), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, api.do(t, http.MethodGet, "/api/templates/salles.csv", ""), http.StatusNotFound, "NOT_FOUND")
	expectError(t, api.do(t, http.MethodGet, "/api/templates/classes.xlsx", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestTransferHandler_Export(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.do(t, http.MethodPost, "/api/consumptions", `{"entry_at":"2026-02-10 09:15","comment":"Découpe"}`), http.StatusCreated)

	rec := api.do(t, http.MethodGet, "/api/export/consumptions.csv?date_from=2026-02-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "Découpe") {
		t.Errorf("экспорт журнала = %q", rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/api/export/activity_types.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Impression 3D") {
		t.Errorf("экспорт справочника без засеянных типов: %q", rec.Body.String())
	}
}

func TestUploadHandler(t *testing.T) {
	api := newTestAPI(t)

	var machine struct {
		ID int64 `json:"id"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodPost, "/api/reference/machines", `{"name":"Epilog Fusion"}`), http.StatusCreated), &machine)

	var result struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	env := expectStatus(t, api.upload(t, "/api/uploads/images", "epilog.png", pngBytes(t, 10, 10), map[string]string{
		"entity":    "machines",
		"entity_id": fmt.Sprint(machine.ID),
	}), http.StatusCreated)
	dataInto(t, env, &result)
	if !strings.HasPrefix(result.Path, "/static/uploads/machines_") {
		t.Errorf("path = %q", result.Path)
	}

	rec := api.do(t, http.MethodGet, result.Path, "")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("раздача файла: статус = %d, размер = %d", rec.Code, rec.Body.Len())
	}

	var got struct {
		ImagePath string `json:"image_path"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, fmt.Sprintf("/api/reference/machines/%d", machine.ID), ""), http.StatusOK), &got)
	if got.ImagePath != result.Path {
		t.Errorf("image_path = %q, ожидается %q", got.ImagePath, result.Path)
	}

	expectError(t, api.upload(t, "/api/uploads/images", "virus.exe", []byte("MZ"), nil), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, api.upload(t, "/api/uploads/images", "a.png", pngBytes(t, 2, 2), map[string]string{"entity_id": "x"}), http.StatusBadRequest, "VALIDATION_ERROR")

	if rec := api.do(t, http.MethodGet, "/static/uploads/", ""); rec.Code != http.StatusNotFound {
		t.Errorf("листинг директории: статус = %d, ожидается 404", rec.Code)
	}
}

func TestMaintenanceHandler(t *testing.T) {
	api := newTestAPI(t)

	var demo struct {
		Created int `json:"created"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodPost, "/api/maintenance/demo", `{"count":5}`), http.StatusCreated), &demo)
	if demo.Created != 5 {
		t.Errorf("created = %d, ожидается 5", demo.Created)
	}
	expectError(t, api.do(t, http.MethodPost, "/api/maintenance/demo", `{"count":20000}`), http.StatusBadRequest, "VALIDATION_ERROR")

	expectError(t, api.do(t, http.MethodPost, "/api/maintenance/reset", `{"confirmation":"oui"}`), http.StatusBadRequest, "CONFIRMATION_MISMATCH")
	expectError(t, api.do(t, http.MethodPost, "/api/maintenance/reset", `{}`), http.StatusBadRequest, "CONFIRMATION_MISMATCH")

	var page struct {
		Total int `json:"total"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/consumptions", ""), http.StatusOK), &page)
	if page.Total != 5 {
		t.Fatalf("записей = %d, отклонённый сброс не должен менять данные", page.Total)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/maintenance/reset", `{"confirmation":"REINITIALISER"}`), http.StatusOK)
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/consumptions", ""), http.StatusOK), &page)
	if page.Total != 0 {
		t.Errorf("после сброса записей = %d, ожидается 0", page.Total)
	}

	var backups []struct {
		Label string `json:"label"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/backups", ""), http.StatusOK), &backups)
	if len(backups) != 1 || backups[0].Label != "pre_reset" {
		t.Errorf("копии = %+v, ожидается одна pre_reset", backups)
	}
}

func TestBackupHandler(t *testing.T) {
	api := newTestAPI(t)

	var settings struct {
		Frequency string `json:"frequency"`
		Retention int    `json:"retention"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/backups/settings", ""), http.StatusOK), &settings)
	if settings.Frequency != "off" || settings.Retention != 10 {
		t.Errorf("настройки по умолчанию = %+v", settings)
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodPut, "/api/backups/settings", `{"frequency":"daily","retention":3}`), http.StatusOK), &settings)
	if settings.Frequency != "daily" || settings.Retention != 3 {
		t.Errorf("настройки = %+v", settings)
	}
	expectError(t, api.do(t, http.MethodPut, "/api/backups/settings", `{"frequency":"hourly","retention":3}`), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, api.do(t, http.MethodPut, "/api/backups/settings", `{"frequency":"daily","retention":400}`), http.StatusBadRequest, "VALIDATION_ERROR")

	var info struct {
		Name  string `json:"name"`
		Label string `json:"label"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodPost, "/api/backups", ""), http.StatusCreated), &info)
	if info.Label != "manual" || !strings.HasPrefix(info.Name, "fabtrack_manual_") {
		t.Errorf("копия = %+v", info)
	}

	rec := api.do(t, http.MethodGet, "/api/backups/"+info.Name, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("скачивание: статус = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "SQLite format 3") {
		t.Error("скачанный файл не SQLite")
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), info.Name) {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}

	// Восстановление из только что скачанной копии
	var restored struct {
		PreRestore struct {
			Label string `json:"label"`
		} `json:"pre_restore"`
	}
	dataInto(t, expectStatus(t, api.upload(t, "/api/backups/restore", "copy.db", rec.Body.Bytes(), nil), http.StatusOK), &restored)
	if restored.PreRestore.Label != "pre_restore" {
		t.Errorf("restore = %+v", restored)
	}
	expectError(t, api.upload(t, "/api/backups/restore", "notes.db", []byte("pas une base"), nil), http.StatusConflict, "CONFLICT")

	expectError(t, api.do(t, http.MethodGet, "/api/backups/evil.db", ""), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, api.do(t, http.MethodGet, "/api/backups/fabtrack_manual_20000101_000000.db", ""), http.StatusNotFound, "NOT_FOUND")

	expectStatus(t, api.do(t, http.MethodDelete, "/api/backups/"+info.Name, ""), http.StatusOK)
	expectError(t, api.do(t, http.MethodDelete, "/api/backups/"+info.Name, ""), http.StatusNotFound, "NOT_FOUND")
}
