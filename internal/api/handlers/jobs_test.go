package handlers

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/service"
)

type fakeJobs struct {
	owner  string
	schema model.Schema
	err    error
}

func (f *fakeJobs) ListUserJobs(_ context.Context, owner string, sch model.Schema) (*model.UserJobs, error) {
	f.owner, f.schema = owner, sch
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserJobs{Owner: owner, Schema: sch, Status: model.StatusOK, Jobs: []model.Job{{ID: "job-1"}}}, nil
}

func newJobsRouter(jobs UserJobLister) http.Handler {
	h := NewAPIHandler(NewHealthHandler(), &fakeSummaries{}, &fakeClusters{}, nil, testLogger())
	if jobs != nil {
		h.WithUserJobs(jobs)
	}
	return newTestRouter(h)
}

func TestGetUserJobs(t *testing.T) {
	jobs := &fakeJobs{}
	router := newJobsRouter(jobs)

	owner := "/O=Grid/O=NorduGrid/CN=Anna Svensson"
	rec := do(t, router, http.MethodGet, "/api/v1/jobs?owner="+url.QueryEscape(owner)+"&schema=glue2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, owner, jobs.owner)
	assert.Equal(t, model.SchemaGLUE2, jobs.schema)
	assert.Contains(t, rec.Body.String(), `"job-1"`)
}

func TestGetUserJobs_Errors(t *testing.T) {
	t.Run("без владельца", func(t *testing.T) {
		rec := do(t, newJobsRouter(&fakeJobs{}), http.MethodGet, "/api/v1/jobs")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("пустой владелец", func(t *testing.T) {
		rec := do(t, newJobsRouter(&fakeJobs{err: service.ErrInvalidOwner}), http.MethodGet, "/api/v1/jobs?owner=%20")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
	})

	t.Run("неизвестная схема", func(t *testing.T) {
		rec := do(t, newJobsRouter(&fakeJobs{}), http.MethodGet, "/api/v1/jobs?owner=x&schema=glue1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
	})

	t.Run("не настроен", func(t *testing.T) {
		rec := do(t, newJobsRouter(nil), http.MethodGet, "/api/v1/jobs?owner=x")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, rec))
	})
}
