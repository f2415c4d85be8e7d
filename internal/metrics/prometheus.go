package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Handler exposes the registry in Prometheus' text exposition format as a
// single counter family with an event label.
func Handler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		esc := strings.NewReplacer("\\", "\\\\", "\"", "\\\"")
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP duo_signaling_events_total Signaling server event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE duo_signaling_events_total counter")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "duo_signaling_events_total{event=\"%s\"} %d\n", esc.Replace(k), snap[k])
		}
	})
}
