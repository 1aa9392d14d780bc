package todo

import "github.com/notedesk/project/internal/platform/metrics"

var successorsSpawnedVec = metrics.NewCounterVec(metrics.Opts{
	Name: "todo_recurrence_successors_spawned_total",
	Help: "Recurring todo successors created by completion toggles.",
}, nil)

var successorsSpawnedTotal = successorsSpawnedVec.WithLabelValues()

func init() {
	metrics.Default.MustRegister(successorsSpawnedVec)
}
