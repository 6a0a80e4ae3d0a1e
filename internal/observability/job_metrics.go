package observability

import (
	"sync"
	"time"
)

// JobMetrics keeps in-process job counters for the worker's /readyz body.
// Prometheus gets the same results through Prom.JobResults.
type JobMetrics struct {
	mu     sync.Mutex
	total  jobCounters
	byType map[string]*jobCounters
}

type jobCounters struct {
	claimed  uint64
	done     uint64
	retried  uint64
	failed   uint64
	count    uint64
	totalDur time.Duration
	maxDur   time.Duration
}

type JobCounts struct {
	Claimed         uint64        `json:"claimed"`
	Done            uint64        `json:"done"`
	Retried         uint64        `json:"retried"`
	Failed          uint64        `json:"failed"`
	AverageDuration time.Duration `json:"avgDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

type JobStats struct {
	JobCounts
	ByType map[string]JobCounts `json:"byType"`
}

func NewJobMetrics() *JobMetrics {
	return &JobMetrics{byType: map[string]*jobCounters{}}
}

func (m *JobMetrics) counters(jobType string) *jobCounters {
	c, ok := m.byType[jobType]
	if !ok {
		c = &jobCounters{}
		m.byType[jobType] = c
	}
	return c
}

func (m *JobMetrics) Claimed(jobType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.claimed++
	m.counters(jobType).claimed++
}

// Finished records one run. result is done, retry or failed.
func (m *JobMetrics) Finished(jobType, result string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range []*jobCounters{&m.total, m.counters(jobType)} {
		switch result {
		case "done":
			c.done++
		case "retry":
			c.retried++
		case "failed":
			c.failed++
		}
		c.count++
		c.totalDur += d
		if d > c.maxDur {
			c.maxDur = d
		}
	}
}

func (c *jobCounters) counts() JobCounts {
	out := JobCounts{
		Claimed:     c.claimed,
		Done:        c.done,
		Retried:     c.retried,
		Failed:      c.failed,
		MaxDuration: c.maxDur,
	}
	if c.count > 0 {
		out.AverageDuration = c.totalDur / time.Duration(c.count)
	}
	return out
}

func (m *JobMetrics) Snapshot() JobStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := JobStats{JobCounts: m.total.counts(), ByType: make(map[string]JobCounts, len(m.byType))}
	for t, c := range m.byType {
		out.ByType[t] = c.counts()
	}
	return out
}
