package metrics

import "time"

// JobCompleted records a successful job completion
func JobCompleted(jobType string, duration time.Duration) {
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	JobLastSuccess.WithLabelValues(jobType).SetToCurrentTime()
}

// JobFailed records a job failure
func JobFailed(jobType string) {
	JobsTotal.WithLabelValues(jobType, "failed").Inc()
}

// JobSkipped records a run skipped because the previous one was still going
func JobSkipped(jobType string) {
	JobsTotal.WithLabelValues(jobType, "skipped").Inc()
}

// NormalizationReported publishes the counts of a normalization run
func NormalizationReported(checked, needed, updated, failed int) {
	NormalizationLastRun.WithLabelValues("checked").Set(float64(checked))
	NormalizationLastRun.WithLabelValues("needed").Set(float64(needed))
	NormalizationLastRun.WithLabelValues("updated").Set(float64(updated))
	NormalizationLastRun.WithLabelValues("failed").Set(float64(failed))
}
