package repo

import (
	"time"

	"github.com/rudderlabs/rudder-go-kit/stats"

	sqlmw "github.com/datacampus/dcx/warehouse/integrations/middleware/sqlquerywrapper"
	"github.com/datacampus/dcx/warehouse/query"
)

type repo struct {
	db           *sqlmw.DB
	builder      *query.Builder
	now          func() time.Time
	statsFactory stats.Stats
	repoType     string
}

type Opt func(*repo)

func WithNow(now func() time.Time) Opt {
	return func(r *repo) {
		r.now = now
	}
}

func WithStats(s stats.Stats) Opt {
	return func(r *repo) {
		r.statsFactory = s
	}
}

// TimerStat returns a func that records the time since its creation under action.
func (r *repo) TimerStat(action string) func() {
	statName := "dcx_repo_query_" + r.repoType + "_" + action + "_duration_seconds"
	start := time.Now()
	return func() {
		r.statsFactory.NewTaggedStat(statName, stats.TimerType, stats.Tags{
			"action": action,
		}).Since(start)
	}
}
