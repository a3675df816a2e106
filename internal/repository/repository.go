// Пакет repository — слой доступа к данным PostgreSQL.
// Общее хранилище снимков сводок: второй уровень кэша, разделяемый
// несколькими репликами монитора.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена или истекла.
	ErrNotFound = errors.New("запись не найдена")
	// ErrCorrupt — данные записи не удалось разобрать.
	ErrCorrupt = errors.New("повреждённые данные записи")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
