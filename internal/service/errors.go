// errors.go — ошибки конвейера сводок.
package service

import "errors"

var (
	// ErrNoSitesFound — реестры не вернули ни одного сайта.
	ErrNoSitesFound = errors.New("сайты не найдены")
	// ErrNoSitesReplied — ни один сайт не ответил.
	ErrNoSitesReplied = errors.New("ни один сайт не ответил")
	// ErrInvalidSchema — неизвестная схема.
	ErrInvalidSchema = errors.New("неизвестная схема: допустимые значения — NG, GLUE2")
	// ErrInvalidView — некорректный вид (фильтр).
	ErrInvalidView = errors.New("некорректный вид")
	// ErrClusterNotFound — сайт ответил, но не опубликовал кластер.
	ErrClusterNotFound = errors.New("кластер не найден")
	// ErrInvalidOwner — не указан владелец задач.
	ErrInvalidOwner = errors.New("не указан владелец задач")
	// ErrClusterUnavailable — сайт не ответил на запрос.
	ErrClusterUnavailable = errors.New("кластер недоступен")
)
