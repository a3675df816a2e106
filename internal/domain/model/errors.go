package model

import "fmt"

// QueryError — отказ опроса одного сайта.
// Не прерывает обработку остальных сайтов.
type QueryError struct {
	// Host — сайт, опрос которого завершился ошибкой
	Host string
	// Err — исходная ошибка транспорта
	Err error
	// Timeout — ошибка вызвана истечением таймаута
	Timeout bool
}

func (e *QueryError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("опрос %s: таймаут: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("опрос %s: %v", e.Host, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
