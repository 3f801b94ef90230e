package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckinsRecorded counts successfully stored check-ins.
	CheckinsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_recorded_total",
		Help: "Check-ins stored (photo uploaded and row inserted).",
	})

	// CheckinsRejected counts submissions the duplicate guard turned away.
	CheckinsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_rejected_total",
		Help: "Check-ins rejected, by policy.",
	}, []string{"policy"})

	// RecordsDeleted counts check-in rows removed by admin commits.
	RecordsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_records_deleted_total",
		Help: "Check-in rows deleted via the admin selection commit.",
	})

	// BlobsDeleted counts photo objects removed by admin commits.
	BlobsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_blobs_deleted_total",
		Help: "Photo objects deleted via the admin selection commit.",
	})

	// GroupingFallbacks counts records whose created_at was unusable and
	// replaced with the current time during grouping.
	GroupingFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkin_grouping_timestamp_fallback_total",
		Help: "Records grouped with a substituted timestamp.",
	})
)
