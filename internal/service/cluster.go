package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
)

// ClusterService — детальная информация об одном кластере.
type ClusterService struct {
	fanout        *Fanout
	reconciler    *Reconciler
	defaultSchema model.Schema
	logger        *slog.Logger
}

// NewClusterService создаёт ClusterService.
func NewClusterService(fanout *Fanout, reconciler *Reconciler, defaultSchema model.Schema, logger *slog.Logger) *ClusterService {
	return &ClusterService{
		fanout:        fanout,
		reconciler:    reconciler,
		defaultSchema: defaultSchema,
		logger:        logger.With(slog.String("component", "cluster")),
	}
}

// DescribeCluster опрашивает сайт напрямую (без кэша) и возвращает
// согласованные метрики сайта и его очередей.
// port <= 0 — стандартный порт; пустая схема — схема по умолчанию.
func (s *ClusterService) DescribeCluster(ctx context.Context, host string, port int, sch model.Schema) (*model.ClusterDetail, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return nil, fmt.Errorf("%w: пустое имя хоста", ErrClusterNotFound)
	}
	if sch == "" {
		sch = s.defaultSchema
	}
	if sch != model.SchemaNG && sch != model.SchemaGLUE2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchema, sch)
	}
	if port <= 0 {
		port = model.DefaultLDAPPort
	}

	ep := model.Endpoint{Host: host, Port: port, Base: sch.BaseDN(), Schema: sch, Source: "direct"}
	results := s.fanout.Run(ctx, []model.Endpoint{ep}, schema.Filter(sch), schema.Attributes())
	res := results[0]
	if res.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClusterUnavailable, res.Err)
	}

	detail, err := s.reconciler.Reconcile(ep, res.Records)
	if err != nil {
		var skip *SkipError
		if errors.As(err, &skip) {
			return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, skip.Reason)
		}
		return nil, err
	}

	s.logger.Debug("Кластер опрошен",
		slog.String("endpoint", ep.Address()),
		slog.Int("queues", len(detail.Queues)),
		slog.Duration("duration", res.Duration),
	)
	return &detail, nil
}
