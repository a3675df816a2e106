// Пакет ldapclient — клиент информационных сервисов сайтов и LDAP-реестров (EGIIS).
// Каждое обращение открывает собственное соединение: соединения не переиспользуются
// между запросами, таймаут одного сайта не влияет на остальные.
package ldapclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// ErrTimeout — запрос не уложился в отведённое время.
var ErrTimeout = errors.New("таймаут LDAP-запроса")

// Client выполняет анонимный поиск в LDAP-деревьях.
type Client struct {
	dialTimeout time.Duration
	timeLimit   time.Duration
	logger      *slog.Logger
}

// New создаёт клиент.
// dialTimeout — таймаут установки TCP-соединения;
// timeLimit — серверный лимит времени поиска (0 — без лимита).
func New(dialTimeout, timeLimit time.Duration, logger *slog.Logger) *Client {
	return &Client{
		dialTimeout: dialTimeout,
		timeLimit:   timeLimit,
		logger:      logger.With(slog.String("component", "ldap_client")),
	}
}

// Search выполняет поиск по поддереву base на сервере url.
// Превышение серверных лимитов времени/размера не считается ошибкой:
// возвращаются полученные к этому моменту записи.
// Отсутствие базового объекта означает пустой, но корректный результат.
func (c *Client) Search(ctx context.Context, url, base, filter string, attrs []string) ([]*ldap.Entry, error) {
	dialTimeout := c.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%s: %w", url, ErrTimeout)
		}
		if dialTimeout <= 0 || remaining < dialTimeout {
			dialTimeout = remaining
		}
	}

	conn, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: dialTimeout}))
	if err != nil {
		return nil, c.classify(ctx, url, err)
	}
	defer conn.Close()

	// Отмена контекста закрывает соединение и прерывает ожидание ответа
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		int(c.timeLimit/time.Second),
		false,
		filter,
		attrs,
		nil,
	)

	res, err := conn.Search(req)
	if err != nil {
		switch {
		case ldap.IsErrorAnyOf(err, ldap.LDAPResultTimeLimitExceeded, ldap.LDAPResultSizeLimitExceeded) && res != nil:
			c.logger.Debug("Частичный результат LDAP-поиска",
				slog.String("url", url),
				slog.Int("entries", len(res.Entries)),
				slog.String("reason", err.Error()),
			)
			return res.Entries, nil
		case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
			return nil, nil
		default:
			return nil, c.classify(ctx, url, err)
		}
	}
	return res.Entries, nil
}

// Query опрашивает информационный сервис сайта и возвращает «сырые» записи.
// Тип объекта (Kind) не заполняется: классификация — забота вызывающего.
func (c *Client) Query(ctx context.Context, ep model.Endpoint, filter string, attrs []string) ([]model.RawRecord, error) {
	entries, err := c.Search(ctx, ep.URL(), ep.Base, filter, attrs)
	if err != nil {
		return nil, err
	}
	return EntriesToRecords(entries), nil
}

// EntriesToRecords преобразует LDAP-записи в RawRecord.
func EntriesToRecords(entries []*ldap.Entry) []model.RawRecord {
	records := make([]model.RawRecord, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		attrs := make(map[string][]string, len(e.Attributes))
		for _, a := range e.Attributes {
			attrs[a.Name] = append(attrs[a.Name], a.Values...)
		}
		records = append(records, model.NewRawRecord(e.DN, attrs))
	}
	return records
}

// classify приводит ошибку транспорта к ErrTimeout, если она вызвана истечением времени.
func (c *Client) classify(ctx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w: %v", url, ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %v", url, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", url, err)
}
