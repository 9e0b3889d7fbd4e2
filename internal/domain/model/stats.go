package model

// StatsFilter — период статистики (границы включительно).
type StatsFilter struct {
	DateFrom string
	DateTo   string
}

// NamedCount — количество записей для именованной группы.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ActivityCount — количество записей по виду деятельности с атрибутами отображения.
type ActivityCount struct {
	Name       string `json:"name"`
	Icon       string `json:"icon"`
	Color      string `json:"color"`
	BadgeClass string `json:"badge_class"`
	Count      int    `json:"count"`
}

// StatsSummary — сводная статистика за период.
type StatsSummary struct {
	Total          int             `json:"total"`
	ByActivityType []ActivityCount `json:"by_activity_type"`
	ByPreparer     []NamedCount    `json:"by_preparer"`
	TotalWeightG   float64         `json:"total_weight_g"`
	TotalSurfaceM2 float64         `json:"total_surface_m2"`
	TotalSheets    int             `json:"total_sheets"`
}

// TimelineGroup — шаг временного ряда.
type TimelineGroup string

const (
	GroupByDay   TimelineGroup = "day"
	GroupByWeek  TimelineGroup = "week"
	GroupByMonth TimelineGroup = "month"
)

// Format возвращает формат strftime для шага ряда.
func (g TimelineGroup) Format() (string, bool) {
	switch g {
	case GroupByDay:
		return "%Y-%m-%d", true
	case GroupByWeek:
		return "%Y-W%W", true
	case GroupByMonth:
		return "%Y-%m", true
	}
	return "", false
}

// TimelinePoint — значение ряда для периода и серии.
type TimelinePoint struct {
	Period string  `json:"period"`
	Series string  `json:"series"`
	Value  float64 `json:"value"`
}

// Timeline — временные ряды статистики.
type Timeline struct {
	GroupBy           TimelineGroup   `json:"group_by"`
	CountByActivity   []TimelinePoint `json:"count_by_activity"`
	WeightByMaterial  []TimelinePoint `json:"weight_by_material"`
	SurfaceByMaterial []TimelinePoint `json:"surface_by_material"`
	SheetsByColorMode []TimelinePoint `json:"sheets_by_color_mode"`
}

// TopUsage — самые востребованные станки и классы.
type TopUsage struct {
	Machines []NamedCount `json:"machines"`
	Classes  []NamedCount `json:"classes"`
}

// ActivityHistogram — распределение записей по часу суток и дню недели.
// ByWeekday индексируется как в strftime('%w'): 0 — воскресенье.
type ActivityHistogram struct {
	ByHour    [24]int `json:"by_hour"`
	ByWeekday [7]int  `json:"by_weekday"`
}
