package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/gridmon/internal/domain/model"
	"github.com/bigkaa/gridmon/internal/domain/schema"
)

const testOwner = "/O=Grid/O=NorduGrid/CN=Anna Svensson"

func ngJobDN(host, queue, id string) string {
	return "nordugrid-job-globalid=" + id + ",nordugrid-info-group-name=jobs," +
		"nordugrid-queue-name=" + queue + ",nordugrid-cluster-name=" + host + ",Mds-Vo-name=local,o=grid"
}

func ngAuthUserDN(host, queue string) string {
	return "nordugrid-authuser-name=Anna Svensson,nordugrid-info-group-name=users," +
		"nordugrid-queue-name=" + queue + ",nordugrid-cluster-name=" + host + ",Mds-Vo-name=local,o=grid"
}

func newUserJobsFixture(hosts ...string) (*fakeResolver, *fakeQuerier, *UserJobService) {
	resolver := &fakeResolver{candidates: len(hosts)}
	for _, h := range hosts {
		resolver.endpoints = append(resolver.endpoints, model.Endpoint{Host: h, Port: model.DefaultLDAPPort})
	}
	q := &fakeQuerier{
		records: map[string][]model.RawRecord{},
		errs:    map[string]error{},
		hang:    map[string]bool{},
	}
	fanout := NewFanout(q, 200*time.Millisecond, 8, testLogger())
	return resolver, q, NewUserJobService(resolver, fanout, model.SchemaNG, testLogger())
}

func TestListUserJobs_NG(t *testing.T) {
	_, q, svc := newUserJobsFixture("a.example.se", "b.example.no", "c.example.fi")
	q.records["a.example.se"] = []model.RawRecord{
		model.NewRawRecord(ngAuthUserDN("a.example.se", "batch"), map[string][]string{
			schema.NGAuthUserFreeCPUs:    {"12 4:60"},
			schema.NGAuthUserQueueLength: {"2"},
			schema.NGAuthUserDiskSpace:   {"5000"},
		}),
		model.NewRawRecord(ngJobDN("a.example.se", "batch", "gsiftp://a.example.se/jobs/2"), map[string][]string{
			schema.NGJobName:           {"reco-2"},
			schema.NGJobStatus:         {"INLRMS: R"},
			schema.NGJobSubmissionTime: {"20240302100000Z"},
			schema.NGJobUsedWallTime:   {"42"},
			schema.NGJobCPUCount:       {"8"},
		}),
		model.NewRawRecord(ngJobDN("a.example.se", "batch", "gsiftp://a.example.se/jobs/1"), map[string][]string{
			schema.NGJobName:           {"reco-1"},
			schema.NGJobStatus:         {"FINISHED at: 20240301120000Z"},
			schema.NGJobExecCluster:    {"node.a.example.se"},
			schema.NGJobSubmissionTime: {"20240301090000Z"},
			schema.NGJobErrors:         {"User requested to cancel the job"},
		}),
	}
	q.records["b.example.no"] = []model.RawRecord{
		model.NewRawRecord(ngJobDN("b.example.no", "long", "gsiftp://b.example.no/jobs/7"), map[string][]string{
			schema.NGJobStatus:         {"FAILED"},
			schema.NGJobSubmissionTime: {"20240301110000Z"},
			schema.NGJobErrors:         {"LRMS error: (-1) Job missing from SLURM"},
		}),
	}
	q.errs["c.example.fi"] = errors.New("connection refused")

	res, err := svc.ListUserJobs(context.Background(), "  "+testOwner+" ", "")
	require.NoError(t, err)

	assert.Equal(t, testOwner, res.Owner)
	assert.Equal(t, model.SchemaNG, res.Schema)
	assert.Equal(t, model.StatusPartial, res.Status)
	assert.Equal(t, 2, res.Replied)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.AuthorizedSites)

	require.Len(t, res.Queues, 1)
	assert.Equal(t, model.UserQueue{
		Host: "a.example.se", Port: model.DefaultLDAPPort, Cluster: "a.example.se", Queue: "batch",
		FreeCPUs: "12 4:60", QueueLength: 2, DiskSpace: 5000,
	}, res.Queues[0])

	// Порядок — по времени постановки
	require.Len(t, res.Jobs, 3)
	assert.Equal(t, "gsiftp://a.example.se/jobs/1", res.Jobs[0].ID)
	assert.Equal(t, "gsiftp://b.example.no/jobs/7", res.Jobs[1].ID)
	assert.Equal(t, "gsiftp://a.example.se/jobs/2", res.Jobs[2].ID)

	first := res.Jobs[0]
	assert.Equal(t, "node.a.example.se", first.Cluster)
	assert.Equal(t, "batch", first.Queue)
	assert.Equal(t, model.FailureUser, first.Failure)
	assert.Equal(t, -1, first.UsedWallTime)

	assert.Equal(t, "b.example.no", res.Jobs[1].Cluster)
	assert.Equal(t, "long", res.Jobs[1].Queue)
	assert.Equal(t, model.FailureSite, res.Jobs[1].Failure)

	last := res.Jobs[2]
	assert.Equal(t, "reco-2", last.Name)
	assert.Equal(t, 42, last.UsedWallTime)
	assert.Equal(t, 8, last.CPUs)
	assert.Equal(t, model.FailureNone, last.Failure)
}

func TestListUserJobs_GLUE2(t *testing.T) {
	_, q, svc := newUserJobsFixture("ce.example.no")
	q.records["ce.example.no"] = []model.RawRecord{
		model.NewRawRecord(
			"GLUE2ActivityID=urn:caid:ce.example.no:job1,GLUE2GroupID=ComputingActivities,"+
				"GLUE2ServiceID=urn:ogf:ComputingService:ce.example.no:arex,GLUE2GroupID=services,o=glue",
			map[string][]string{
				schema.GLUE2ActivityName:         {"sim"},
				schema.GLUE2ActivityState:        {"emies:processing-running", "nordugrid:INLRMS:R"},
				schema.GLUE2ActivityQueue:        {"batch"},
				schema.GLUE2ActivityUsedWallTime: {"600"},
				schema.GLUE2ActivitySlots:        {"4"},
			}),
	}

	res, err := svc.ListUserJobs(context.Background(), testOwner, model.SchemaGLUE2)
	require.NoError(t, err)

	assert.Equal(t, model.StatusOK, res.Status)
	assert.Empty(t, res.Queues)
	assert.Equal(t, 0, res.AuthorizedSites)
	require.Len(t, res.Jobs, 1)

	job := res.Jobs[0]
	assert.Equal(t, "urn:caid:ce.example.no:job1", job.ID)
	assert.Equal(t, "INLRMS:R", job.Status)
	assert.Equal(t, "ce.example.no", job.Cluster)
	assert.Equal(t, "batch", job.Queue)
	assert.Equal(t, 10, job.UsedWallTime)
	assert.Equal(t, 4, job.CPUs)
}

func TestListUserJobs_Statuses(t *testing.T) {
	t.Run("нет сайтов", func(t *testing.T) {
		_, _, svc := newUserJobsFixture()
		res, err := svc.ListUserJobs(context.Background(), testOwner, "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusNoSitesFound, res.Status)
		assert.NotNil(t, res.Jobs)
	})

	t.Run("ни один сайт не ответил", func(t *testing.T) {
		_, q, svc := newUserJobsFixture("a.example.se")
		q.hang["a.example.se"] = true
		res, err := svc.ListUserJobs(context.Background(), testOwner, "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusNoSitesReplied, res.Status)
		assert.Equal(t, 1, res.Failed)
	})

	t.Run("нет задач — не ошибка", func(t *testing.T) {
		_, _, svc := newUserJobsFixture("a.example.se")
		res, err := svc.ListUserJobs(context.Background(), testOwner, "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusOK, res.Status)
		assert.Empty(t, res.Jobs)
	})
}

func TestListUserJobs_InvalidRequest(t *testing.T) {
	_, _, svc := newUserJobsFixture("a.example.se")
	ctx := context.Background()

	_, err := svc.ListUserJobs(ctx, "   ", "")
	assert.ErrorIs(t, err, ErrInvalidOwner)

	_, err = svc.ListUserJobs(ctx, testOwner, "GLUE1")
	assert.ErrorIs(t, err, ErrInvalidSchema)
}
