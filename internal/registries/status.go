package registries

import (
	"strings"

	"github.com/globaltrial/registry-pipeline/internal/domain"
)

// StatusMapping is the per-adapter native-vocabulary -> canonical enum
// table required by §4.5. Adapters build one at init time and call
// MapStatus at normalize time; unmapped values are UNKNOWN.
type StatusMapping map[string]domain.TrialStatus

func MapStatus(m StatusMapping, raw string) domain.TrialStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := m[key]; ok {
		return status
	}
	return domain.StatusUnknown
}

// CTGovStatusMapping covers ClinicalTrials.gov API v2's overall_status
// vocabulary.
var CTGovStatusMapping = StatusMapping{
	"recruiting":               domain.StatusRecruiting,
	"not_yet_recruiting":       domain.StatusNotYetRecruiting,
	"active, not recruiting":  domain.StatusActiveNotRecruit,
	"active_not_recruiting":   domain.StatusActiveNotRecruit,
	"completed":                domain.StatusCompleted,
	"suspended":                domain.StatusSuspended,
	"terminated":               domain.StatusTerminated,
	"withdrawn":                domain.StatusWithdrawn,
	"unknown status":           domain.StatusUnknown,
}

// ISRCTNStatusMapping covers ISRCTN's overallStatus vocabulary.
var ISRCTNStatusMapping = StatusMapping{
	"recruiting":                domain.StatusRecruiting,
	"not yet recruiting":        domain.StatusNotYetRecruiting,
	"ongoing":                   domain.StatusActiveNotRecruit,
	"completed":                 domain.StatusCompleted,
	"suspended":                 domain.StatusSuspended,
	"stopped":                   domain.StatusTerminated,
	"withdrawn":                 domain.StatusWithdrawn,
}

// CTISStatusMapping covers the EU Clinical Trials Information System's
// trial status vocabulary.
var CTISStatusMapping = StatusMapping{
	"authorised, recruiting":          domain.StatusRecruiting,
	"authorised, not yet recruiting":  domain.StatusNotYetRecruiting,
	"authorised, ongoing, recruiting": domain.StatusRecruiting,
	"ongoing, not recruiting":         domain.StatusActiveNotRecruit,
	"ended":                           domain.StatusCompleted,
	"suspended by authority":          domain.StatusSuspended,
	"terminated":                      domain.StatusTerminated,
	"withdrawn":                       domain.StatusWithdrawn,
	"restarted":                       domain.StatusRecruiting,
}

// EUCTRStatusMapping covers the legacy EU CTR's free-text status
// field: ongoing, completed, prematurely ended and temporarily halted.
var EUCTRStatusMapping = StatusMapping{
	"ongoing":   domain.StatusActiveNotRecruit,
	"completed": domain.StatusCompleted,
	"prematurely ended": domain.StatusTerminated,
	"temporarily halted": domain.StatusSuspended,
}

// ICTRPStatusMapping covers WHO ICTRP's recruitmentStatus vocabulary
// (itself an aggregation of many national registries).
var ICTRPStatusMapping = StatusMapping{
	"recruiting":                   domain.StatusRecruiting,
	"not recruiting":               domain.StatusActiveNotRecruit,
	"pending":                      domain.StatusNotYetRecruiting,
	"complete":                     domain.StatusCompleted,
	"completed":                    domain.StatusCompleted,
	"suspended":                    domain.StatusSuspended,
	"terminated":                   domain.StatusTerminated,
	"withdrawn":                    domain.StatusWithdrawn,
}
