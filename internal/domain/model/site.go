package model

// CPUSource — происхождение значения TotalCPU.
type CPUSource string

const (
	// CPUReported — значение сообщено сайтом напрямую.
	CPUReported CPUSource = "reported"
	// CPUDerived — значение выведено из окружений исполнения (GLUE2).
	CPUDerived CPUSource = "derived"
	// CPUUnknown — сайт не сообщил количество CPU.
	CPUUnknown CPUSource = "unknown"
)

// Аннотации состояния очередей сайта.
const (
	AnnotationNoQueueInfo   = "no queue info"
	AnnotationQueueInactive = "queue inactive"
)

// RunningJobs — выполняющиеся задачи сайта.
// Инвариант: Grid <= Total, Local = Total - Grid.
type RunningJobs struct {
	Total int `json:"total"`
	Grid  int `json:"grid"`
	Local int `json:"local"`
}

// QueuedJobs — задачи в очереди.
type QueuedJobs struct {
	// Grid — грид-задачи в очереди (включая pre-stage)
	Grid int `json:"grid"`
	// Local — задачи локальной LRMS
	Local int `json:"local"`
	// PreStage — задачи, принятые, но ещё не переданные в LRMS
	PreStage int `json:"pre_stage"`
}

// NormalizedSite — согласованные метрики одного сайта.
// Создаётся реконсилятором, после создания не изменяется.
type NormalizedSite struct {
	// Host — FQDN сайта (идентичность)
	Host string `json:"host"`
	// Port — порт информационной системы
	Port int `json:"port"`
	// Schema — схема, по которой получены данные
	Schema Schema `json:"schema"`
	// Alias — отображаемое имя кластера
	Alias string `json:"alias"`
	// Country — код страны / VO для группировки
	Country string `json:"country"`
	// TotalCPU — общее число CPU (0 — неизвестно)
	TotalCPU int `json:"total_cpu"`
	// CPUSource — происхождение TotalCPU
	CPUSource CPUSource `json:"cpu_source"`
	// UsedCPU — занятые CPU (сообщённые или сумма running по очередям)
	UsedCPU int `json:"used_cpu"`
	// TotalJobs — общее число задач, сообщённое кластером
	TotalJobs int `json:"total_jobs"`
	// Running — выполняющиеся задачи
	Running RunningJobs `json:"running"`
	// Queued — задачи в очереди
	Queued QueuedJobs `json:"queued"`
	// QueueActive — false, если хотя бы одна очередь не в рабочем состоянии
	QueueActive bool `json:"queue_active"`
	// HasQueueInfo — false, если сайт не опубликовал ни одной очереди
	HasQueueInfo bool `json:"has_queue_info"`
	// QueueCount — число учтённых очередей
	QueueCount int `json:"queue_count"`
}

// LoadRatio — отношение занятых CPU к общему числу (0 при TotalCPU == 0).
func (s NormalizedSite) LoadRatio() float64 {
	if s.TotalCPU <= 0 {
		return 0
	}
	return float64(s.UsedCPU) / float64(s.TotalCPU)
}

// GridLoadRatio — доля CPU, занятых грид-задачами.
func (s NormalizedSite) GridLoadRatio() float64 {
	if s.TotalCPU <= 0 {
		return 0
	}
	return float64(s.Running.Grid) / float64(s.TotalCPU)
}

// Annotation возвращает пометку о состоянии очередей ("" — всё в порядке).
func (s NormalizedSite) Annotation() string {
	switch {
	case !s.HasQueueInfo:
		return AnnotationNoQueueInfo
	case !s.QueueActive:
		return AnnotationQueueInactive
	default:
		return ""
	}
}

// QueueDetail — согласованные метрики одной очереди (share) сайта.
type QueueDetail struct {
	Name    string      `json:"name"`
	Status  string      `json:"status"`
	Active  bool        `json:"active"`
	Running RunningJobs `json:"running"`
	Queued  QueuedJobs  `json:"queued"`
	// CPUs — CPU очереди; при CPUsKnown=false значение не определено
	CPUs      int  `json:"cpus"`
	CPUsKnown bool `json:"cpus_known"`
}

// ClusterDetail — детальная информация о кластере (сайт + очереди).
type ClusterDetail struct {
	Site   NormalizedSite `json:"site"`
	Queues []QueueDetail  `json:"queues"`
}
