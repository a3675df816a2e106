package model

import "time"

// JobFailure — классификация ошибки задачи.
type JobFailure string

const (
	// FailureNone — ошибка не сообщена.
	FailureNone JobFailure = ""
	// FailureUser — ошибка по вине пользователя (описание задачи, данные).
	FailureUser JobFailure = "user"
	// FailureSite — прочие ошибки (сайт, LRMS, передача данных).
	FailureSite JobFailure = "site"
)

// Job — задача пользователя на сайте.
type Job struct {
	// ID — глобальный идентификатор задачи (значение первого RDN)
	ID string `json:"id"`
	// Name — имя задачи ("" — не задано)
	Name string `json:"name"`
	// Status — состояние задачи в терминах сайта
	Status string `json:"status"`
	// Host — сайт, опубликовавший задачу
	Host string `json:"host"`
	// Port — порт информационной системы сайта
	Port int `json:"port"`
	// Cluster — кластер исполнения
	Cluster string `json:"cluster"`
	// Queue — очередь исполнения
	Queue string `json:"queue"`
	// SubmissionTime — время постановки в формате сайта (UTC, GeneralizedTime)
	SubmissionTime string `json:"submission_time,omitempty"`
	// UsedWallTime — затраченное время по часам, минуты (-1 — не сообщено)
	UsedWallTime int `json:"used_wall_time"`
	// CPUs — запрошенное число CPU (0 — не сообщено)
	CPUs int `json:"cpus"`
	// Failure — классификация ошибки
	Failure JobFailure `json:"failure,omitempty"`
	// Error — текст ошибки, сообщённый сайтом
	Error string `json:"error,omitempty"`
}

// UserQueue — очередь, к которой пользователь допущен (только NG).
type UserQueue struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Cluster string `json:"cluster"`
	Queue   string `json:"queue"`
	// FreeCPUs — свободные CPU в формате сайта ("n" или "n:t1 m:t2")
	FreeCPUs string `json:"free_cpus"`
	// QueueLength — задачи пользователя, ожидающие в очереди
	QueueLength int `json:"queue_length"`
	// DiskSpace — доступное пользователю дисковое пространство, МБ
	DiskSpace int `json:"disk_space"`
}

// UserJobs — задачи одного владельца на всех сайтах.
type UserJobs struct {
	Owner  string        `json:"owner"`
	Schema Schema        `json:"schema"`
	Status SummaryStatus `json:"status"`
	// Queues — допуски пользователя к очередям
	Queues []UserQueue `json:"queues"`
	// Jobs — задачи, упорядоченные по времени постановки
	Jobs []Job `json:"jobs"`
	// AuthorizedSites — сайты, опубликовавшие хотя бы один допуск пользователя
	AuthorizedSites int       `json:"authorized_sites"`
	Resolved        int       `json:"resolved"`
	Replied         int       `json:"replied"`
	Failed          int       `json:"failed"`
	GeneratedAt     time.Time `json:"generated_at"`
}
