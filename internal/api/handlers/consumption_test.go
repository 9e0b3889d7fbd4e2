package handlers

import (
	"fmt"
	"net/http"
	"testing"
)

func TestConsumptionHandler_CRUD(t *testing.T) {
	api := newTestAPI(t)

	var created struct {
		ID int64 `json:"id"`
	}
	body := `{"entry_at":"2026-02-10 09:15","weight_g":42.5,"comment":"Support","project_name":"Robot"}`
	dataInto(t, expectStatus(t, api.do(t, http.MethodPost, "/api/consumptions", body), http.StatusCreated), &created)

	target := fmt.Sprintf("/api/consumptions/%d", created.ID)
	var got struct {
		EntryAt     string   `json:"entry_at"`
		WeightG     *float64 `json:"weight_g"`
		Comment     string   `json:"comment"`
		ProjectName string   `json:"project_name"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, target, ""), http.StatusOK), &got)
	if got.EntryAt != "2026-02-10 09:15" || got.WeightG == nil || *got.WeightG != 42.5 {
		t.Errorf("запись = %+v", got)
	}

	// Отсутствующие ключи не меняются, null очищает
	dataInto(t, expectStatus(t, api.do(t, http.MethodPut, target, `{"weight_g":null,"comment":"Socle"}`), http.StatusOK), &got)
	if got.WeightG != nil || got.Comment != "Socle" || got.ProjectName != "Robot" {
		t.Errorf("после обновления = %+v", got)
	}

	expectStatus(t, api.do(t, http.MethodDelete, target, ""), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodDelete, target, ""), http.StatusOK)
	expectError(t, api.do(t, http.MethodGet, target, ""), http.StatusNotFound, "NOT_FOUND")
}

func TestConsumptionHandler_BatchAndQuery(t *testing.T) {
	api := newTestAPI(t)

	batch := `{"common":{"entry_at":"2026-02-10 10:00","comment":"TP"},"items":[{"weight_g":10},{"weight_g":20},{"weight_g":30,"entry_at":"2026-03-01"}]}`
	var created struct {
		IDs   []int64 `json:"ids"`
		Count int     `json:"count"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodPost, "/api/consumptions/batch", batch), http.StatusCreated), &created)
	if created.Count != 3 || len(created.IDs) != 3 {
		t.Fatalf("batch = %+v", created)
	}

	// Ошибка в одном элементе отменяет всю партию
	bad := `{"items":[{"weight_g":5},{"weight_g":-1}]}`
	expectError(t, api.do(t, http.MethodPost, "/api/consumptions/batch", bad), http.StatusBadRequest, "VALIDATION_ERROR")

	var page struct {
		Rows []struct {
			Comment string `json:"comment"`
		} `json:"rows"`
		Total     int `json:"total"`
		PageCount int `json:"page_count"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/consumptions?page_size=2", ""), http.StatusOK), &page)
	if page.Total != 3 || page.PageCount != 2 || len(page.Rows) != 2 {
		t.Errorf("страница = %+v", page)
	}

	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/consumptions?date_to=2026-02-28", ""), http.StatusOK), &page)
	if page.Total != 2 {
		t.Errorf("до 2026-02-28 записей = %d, ожидается 2", page.Total)
	}

	expectError(t, api.do(t, http.MethodGet, "/api/consumptions?class_id=abc", ""), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, api.do(t, http.MethodGet, "/api/consumptions?page=x", ""), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, api.do(t, http.MethodGet, "/api/consumptions/0", ""), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestStatsHandler(t *testing.T) {
	api := newTestAPI(t)

	for _, at := range []string{"2026-02-10 09:15", "2026-02-11 14:00"} {
		expectStatus(t, api.do(t, http.MethodPost, "/api/consumptions", fmt.Sprintf(`{"entry_at":%q,"sheet_count":5}`, at)), http.StatusCreated)
	}

	var summary struct {
		Total       int `json:"total"`
		TotalSheets int `json:"total_sheets"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/stats/summary", ""), http.StatusOK), &summary)
	if summary.Total != 2 || summary.TotalSheets != 10 {
		t.Errorf("summary = %+v", summary)
	}

	// Новая запись сбрасывает кэш статистики
	expectStatus(t, api.do(t, http.MethodPost, "/api/consumptions", `{"entry_at":"2026-02-12"}`), http.StatusCreated)
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/stats/summary", ""), http.StatusOK), &summary)
	if summary.Total != 3 {
		t.Errorf("Total = %d, ожидается 3 после записи", summary.Total)
	}

	var activity struct {
		ByHour []int `json:"by_hour"`
	}
	dataInto(t, expectStatus(t, api.do(t, http.MethodGet, "/api/stats/activity", ""), http.StatusOK), &activity)
	if len(activity.ByHour) != 24 || activity.ByHour[9] != 1 || activity.ByHour[14] != 1 {
		t.Errorf("by_hour = %v", activity.ByHour)
	}

	expectStatus(t, api.do(t, http.MethodGet, "/api/stats/timeline?group_by=week", ""), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodGet, "/api/stats/top", ""), http.StatusOK)
	expectError(t, api.do(t, http.MethodGet, "/api/stats/timeline?group_by=year", ""), http.StatusBadRequest, "VALIDATION_ERROR")
}
