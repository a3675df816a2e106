// Пакет schema — знания о двух поколениях информационной схемы ARC:
// имена объектных классов и атрибутов, объединённые фильтры поиска
// и классификация объектов по DN.
package schema

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Объектные классы NorduGrid.
const (
	ObjNGCluster = "nordugrid-cluster"
	ObjNGQueue   = "nordugrid-queue"
)

// Атрибуты nordugrid-cluster.
const (
	NGClusterName      = "nordugrid-cluster-name"
	NGClusterAlias     = "nordugrid-cluster-aliasname"
	NGClusterLocation  = "nordugrid-cluster-location"
	NGClusterTotalCPUs = "nordugrid-cluster-totalcpus"
	NGClusterUsedCPUs  = "nordugrid-cluster-usedcpus"
	NGClusterTotalJobs = "nordugrid-cluster-totaljobs"
	// NGClusterQueuedJobs устарел с 0.5.38, но публикуется старыми сайтами.
	NGClusterQueuedJobs   = "nordugrid-cluster-queuedjobs"
	NGClusterPreLRMSQueue = "nordugrid-cluster-prelrmsqueued"
)

// Атрибуты nordugrid-queue.
const (
	NGQueueName        = "nordugrid-queue-name"
	NGQueueStatus      = "nordugrid-queue-status"
	NGQueueRunning     = "nordugrid-queue-running"
	NGQueueGridRunning = "nordugrid-queue-gridrunning"
	NGQueueGridQueued  = "nordugrid-queue-gridqueued"
	// NGQueueQueued устарел с 0.5.38.
	NGQueueQueued       = "nordugrid-queue-queued"
	NGQueueLocalQueued  = "nordugrid-queue-localqueued"
	NGQueuePreLRMSQueue = "nordugrid-queue-prelrmsqueued"
	NGQueueTotalCPUs    = "nordugrid-queue-totalcpus"
)

// Задачи и пользователи NorduGrid.
const (
	ObjNGJob      = "nordugrid-job"
	ObjNGAuthUser = "nordugrid-authuser"

	NGJobGlobalID       = "nordugrid-job-globalid"
	NGJobGlobalOwner    = "nordugrid-job-globalowner"
	NGJobName           = "nordugrid-job-jobname"
	NGJobExecQueue      = "nordugrid-job-execqueue"
	NGJobExecCluster    = "nordugrid-job-execcluster"
	NGJobSubmissionTime = "nordugrid-job-submissiontime"
	NGJobStatus         = "nordugrid-job-status"
	NGJobUsedWallTime   = "nordugrid-job-usedwalltime"
	NGJobErrors         = "nordugrid-job-errors"
	NGJobCPUCount       = "nordugrid-job-cpucount"

	NGAuthUserSN          = "nordugrid-authuser-sn"
	NGAuthUserFreeCPUs    = "nordugrid-authuser-freecpus"
	NGAuthUserQueueLength = "nordugrid-authuser-queuelength"
	NGAuthUserDiskSpace   = "nordugrid-authuser-diskspace"
)

// Объектные классы GLUE2.
const (
	ObjGLUE2Service     = "GLUE2ComputingService"
	ObjGLUE2Share       = "GLUE2ComputingShare"
	ObjGLUE2Manager     = "GLUE2ComputingManager"
	ObjGLUE2Location    = "GLUE2Location"
	ObjGLUE2Contact     = "GLUE2Contact"
	ObjGLUE2AdminDomain = "GLUE2AdminDomain"
	ObjGLUE2ExecEnv     = "GLUE2ExecutionEnvironment"
	ObjGLUE2Activity    = "GLUE2ComputingActivity"
)

// Атрибуты GLUE2.
const (
	GLUE2EntityName = "GLUE2EntityName"
	GLUE2ResourceID = "GLUE2ResourceID"

	GLUE2ServiceTotalJobs        = "GLUE2ComputingServiceTotalJobs"
	GLUE2ServicePreLRMSWaiting   = "GLUE2ComputingServicePreLRMSWaitingJobs"
	GLUE2ManagerTotalLogicalCPUs = "GLUE2ComputingManagerTotalLogicalCPUs"
	GLUE2ManagerSlotsUsedGrid    = "GLUE2ComputingManagerSlotsUsedByGridJobs"
	GLUE2ManagerSlotsUsedLocal   = "GLUE2ComputingManagerSlotsUsedByLocalJobs"

	GLUE2ShareMappingQueue    = "GLUE2ComputingShareMappingQueue"
	GLUE2ShareServingState    = "GLUE2ComputingShareServingState"
	GLUE2ShareRunning         = "GLUE2ComputingShareRunningJobs"
	GLUE2ShareLocalRunning    = "GLUE2ComputingShareLocalRunningJobs"
	GLUE2ShareWaiting         = "GLUE2ComputingShareWaitingJobs"
	GLUE2ShareLocalWaiting    = "GLUE2ComputingShareLocalWaitingJobs"
	GLUE2SharePreLRMSWaiting  = "GLUE2ComputingSharePreLRMSWaitingJobs"
	GLUE2ShareExecEnvForeignK = "GLUE2ComputingShareExecutionEnvironmentForeignKey"

	GLUE2LocationPostCode = "GLUE2LocationPostCode"
	GLUE2LocationCountry  = "GLUE2LocationCountry"

	GLUE2ExecEnvLogicalCPUs    = "GLUE2ExecutionEnvironmentLogicalCPUs"
	GLUE2ExecEnvTotalInstances = "GLUE2ExecutionEnvironmentTotalInstances"

	GLUE2ActivityID             = "GLUE2ActivityID"
	GLUE2ActivityOwner          = "GLUE2ComputingActivityOwner"
	GLUE2ActivityName           = "GLUE2ComputingActivityName"
	GLUE2ActivityState          = "GLUE2ComputingActivityState"
	GLUE2ActivityQueue          = "GLUE2ComputingActivityQueue"
	GLUE2ActivitySubmissionTime = "GLUE2ComputingActivitySubmissionTime"
	GLUE2ActivityUsedWallTime   = "GLUE2ComputingActivityUsedTotalWallTime"
	GLUE2ActivityError          = "GLUE2ComputingActivityError"
	GLUE2ActivitySlots          = "GLUE2ComputingActivityRequestedSlots"
)

// Рабочие состояния очередей.
const (
	NGQueueActiveStatus   = "active"
	GLUE2ShareActiveState = "production"
)

// Filter возвращает объединённый фильтр: все нужные классы объектов одним запросом.
func Filter(s model.Schema) string {
	if s == model.SchemaGLUE2 {
		return "(|(objectClass=" + ObjGLUE2Service + ")(objectClass=" + ObjGLUE2Share +
			")(objectClass=" + ObjGLUE2Manager + ")(objectClass=" + ObjGLUE2Location +
			")(objectClass=" + ObjGLUE2Contact + ")(objectClass=" + ObjGLUE2AdminDomain +
			")(objectClass=" + ObjGLUE2ExecEnv + "))"
	}
	return "(|(objectClass=" + ObjNGCluster + ")(objectClass=" + ObjNGQueue + "))"
}

// FilterWithView сужает объединённый фильтр дополнительным LDAP-выражением вида.
// Пустое выражение возвращает фильтр без изменений.
func FilterWithView(s model.Schema, view string) string {
	view = strings.TrimSpace(view)
	if view == "" {
		return Filter(s)
	}
	if !strings.HasPrefix(view, "(") {
		view = "(" + view + ")"
	}
	return "(&" + Filter(s) + view + ")"
}

// Attributes возвращает список запрашиваемых атрибутов обеих схем.
func Attributes() []string {
	return []string{
		"dn",
		NGClusterName, NGClusterAlias, NGClusterLocation, NGClusterTotalCPUs, NGClusterUsedCPUs,
		NGClusterTotalJobs, NGClusterQueuedJobs, NGClusterPreLRMSQueue,
		NGQueueName, NGQueueStatus, NGQueueRunning, NGQueueGridRunning, NGQueueGridQueued,
		NGQueueQueued, NGQueueLocalQueued, NGQueuePreLRMSQueue, NGQueueTotalCPUs,
		GLUE2EntityName, GLUE2ResourceID,
		GLUE2ServiceTotalJobs, GLUE2ServicePreLRMSWaiting,
		GLUE2ManagerTotalLogicalCPUs, GLUE2ManagerSlotsUsedGrid, GLUE2ManagerSlotsUsedLocal,
		GLUE2ShareMappingQueue, GLUE2ShareServingState, GLUE2ShareRunning, GLUE2ShareLocalRunning,
		GLUE2ShareWaiting, GLUE2ShareLocalWaiting, GLUE2SharePreLRMSWaiting, GLUE2ShareExecEnvForeignK,
		GLUE2LocationPostCode, GLUE2LocationCountry,
		GLUE2ExecEnvLogicalCPUs, GLUE2ExecEnvTotalInstances,
	}
}

// UserJobsFilter возвращает фильтр задач владельца; для NG в ту же выборку
// входят записи допуска пользователя к очередям.
func UserJobsFilter(s model.Schema, owner string) string {
	owner = ldap.EscapeFilter(owner)
	if s == model.SchemaGLUE2 {
		return "(&(objectClass=" + ObjGLUE2Activity + ")(" + GLUE2ActivityOwner + "=" + owner + "))"
	}
	return "(|(&(objectClass=" + ObjNGAuthUser + ")(" + NGAuthUserSN + "=" + owner + "))" +
		"(&(objectClass=" + ObjNGJob + ")(" + NGJobGlobalOwner + "=" + owner + ")))"
}

// UserJobsAttributes возвращает атрибуты задач и допусков обеих схем.
func UserJobsAttributes() []string {
	return []string{
		"dn",
		NGJobName, NGJobExecQueue, NGJobExecCluster, NGJobSubmissionTime, NGJobStatus,
		NGJobUsedWallTime, NGJobErrors, NGJobCPUCount,
		NGAuthUserFreeCPUs, NGAuthUserQueueLength, NGAuthUserDiskSpace,
		GLUE2ActivityName, GLUE2ActivityState, GLUE2ActivityQueue, GLUE2ActivitySubmissionTime,
		GLUE2ActivityUsedWallTime, GLUE2ActivityError, GLUE2ActivitySlots,
	}
}

// RDNValue возвращает значение атрибута attr из любого RDN в DN (без учёта регистра).
func RDNValue(dn, attr string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return ""
	}
	for _, rdn := range parsed.RDNs {
		for _, a := range rdn.Attributes {
			if strings.EqualFold(a.Type, attr) {
				return a.Value
			}
		}
	}
	return ""
}

// glue2Kinds — третий сегмент идентификатора GLUE2 (urn:ogf:<Kind>:...).
var glue2Kinds = map[string]model.ObjectKind{
	"computingservice":     model.KindCluster,
	"computingshare":       model.KindQueue,
	"computingmanager":     model.KindManager,
	"location":             model.KindLocation,
	"contact":              model.KindContact,
	"admindomain":          model.KindAdminDomain,
	"executionenvironment": model.KindExecEnv,
	"computingactivity":    model.KindJob,
}

// Classify определяет тип объекта по DN.
// Объекты вне базового дерева схемы и нераспознанные DN получают KindUnknown.
func Classify(s model.Schema, dn string) model.ObjectKind {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return model.KindUnknown
	}
	if !underBase(parsed, s.BaseDN()) {
		return model.KindUnknown
	}

	first := parsed.RDNs[0].Attributes[0]
	if s == model.SchemaGLUE2 {
		if strings.EqualFold(first.Type, GLUE2ActivityID) {
			return model.KindJob
		}
		parts := strings.Split(first.Value, ":")
		if len(parts) < 3 {
			return model.KindUnknown
		}
		return glue2Kinds[strings.ToLower(parts[2])]
	}

	// NG: nordugrid-<kind>-name / nordugrid-<kind>-globalid
	attr := strings.ToLower(first.Type)
	if !strings.HasPrefix(attr, "nordugrid-") {
		return model.KindUnknown
	}
	switch strings.SplitN(strings.TrimPrefix(attr, "nordugrid-"), "-", 2)[0] {
	case "cluster":
		return model.KindCluster
	case "queue":
		return model.KindQueue
	case "job":
		return model.KindJob
	case "authuser":
		return model.KindAuthUser
	default:
		return model.KindUnknown
	}
}

// SiteName извлекает имя сайта из DN кластера.
// NG: значение nordugrid-cluster-name; GLUE2: четвёртый сегмент идентификатора сервиса.
func SiteName(s model.Schema, dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return ""
	}
	value := parsed.RDNs[0].Attributes[0].Value
	if s == model.SchemaGLUE2 {
		parts := strings.Split(value, ":")
		if len(parts) < 4 {
			return ""
		}
		return parts[3]
	}
	return value
}

// underBase проверяет, что DN лежит в дереве base (без учёта регистра).
func underBase(dn *ldap.DN, base string) bool {
	baseDN, err := ldap.ParseDN(base)
	if err != nil {
		return false
	}
	return baseDN.AncestorOfFold(dn) || baseDN.EqualFold(dn)
}
