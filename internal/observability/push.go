package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushToGateway sends the current value of every default-registry metric to a
// Prometheus Pushgateway under job, grouped by instance. Used by one-shot
// runs, which exit before a scrape could observe them.
func PushToGateway(ctx context.Context, url, job, instance string) error {
	if url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
