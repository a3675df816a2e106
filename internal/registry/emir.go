package registry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// emirQueryPath — запрос информационных эндпоинтов сайтов.
const emirQueryPath = "/services/query.json?Service_Endpoint_Capability=information.discovery.resource"

// NewHTTPClient создаёт HTTP-клиент для реестров EMIR.
// caCertPath — путь к CA-сертификату (пустая строка — стандартный пул).
func NewHTTPClient(caCertPath string, timeout time.Duration, logger *slog.Logger) (*http.Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата EMIR: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат EMIR добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}
	return httpClient, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// EMIRSource — HTTP-реестр EMIR.
type EMIRSource struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewEMIRSource создаёт источник EMIR по базовому URL (http/https).
func NewEMIRSource(baseURL string, httpClient *http.Client, logger *slog.Logger) (*EMIRSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("адрес EMIR %q: ожидается http(s)://", baseURL)
	}
	return &EMIRSource{
		url:        baseURL,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "emir_source")),
	}, nil
}

// ID реализует Source.
func (e *EMIRSource) ID() string { return "emir:" + e.url }

// URL возвращает базовый URL реестра.
func (e *EMIRSource) URL() string { return e.url }

// emirService — запись каталога EMIR.
// Service_Endpoint_URL публикуется строкой или массивом строк.
type emirService struct {
	EndpointURL json.RawMessage `json:"Service_Endpoint_URL"`
}

func (s emirService) urls() []string {
	if len(s.EndpointURL) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(s.EndpointURL, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(s.EndpointURL, &many); err == nil {
		return many
	}
	return nil
}

// List реализует Source.
func (e *EMIRSource) List(ctx context.Context) (*Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+emirQueryPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к EMIR: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос к EMIR %s: %w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("EMIR %s вернул статус %d: %s", e.url, resp.StatusCode, string(body))
	}

	var services []emirService
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("декодирование ответа EMIR %s: %w", e.url, err)
	}

	listing := &Listing{}
	for _, svc := range services {
		for _, raw := range svc.urls() {
			ep, err := ParseEndpoint(raw)
			if err != nil {
				// Не-LDAP эндпоинты (https и т.п.) не опрашиваются
				e.logger.Debug("Эндпоинт EMIR пропущен",
					slog.String("url", raw),
					slog.String("reason", err.Error()),
				)
				continue
			}
			ep.Source = e.ID()
			listing.Candidates = append(listing.Candidates, ep)
		}
	}
	return listing, nil
}
