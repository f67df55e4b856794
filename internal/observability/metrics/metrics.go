package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const namespace = "mother"

// counterKey 把标签值按声明顺序拼在一起。
type counterKey struct {
	name   string
	labels string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type family struct {
	help       string
	kind       string
	labelNames []string
}

type collector struct {
	mu         sync.Mutex
	families   map[string]family
	counters   map[counterKey]uint64
	histograms map[counterKey]*histogram
}

var defaultCollector = newCollector()

func newCollector() *collector {
	c := &collector{
		families:   make(map[string]family),
		counters:   make(map[counterKey]uint64),
		histograms: make(map[counterKey]*histogram),
	}
	c.families["llm_calls_total"] = family{help: "Gateway calls by outcome.", kind: "counter", labelNames: []string{"outcome"}}
	c.families["llm_call_duration_seconds"] = family{help: "Gateway call latency in seconds.", kind: "histogram"}
	c.families["tool_calls_total"] = family{help: "Tool dispatches by tool and outcome.", kind: "counter", labelNames: []string{"tool", "outcome"}}
	c.families["tool_call_duration_seconds"] = family{help: "Tool dispatch latency in seconds.", kind: "histogram", labelNames: []string{"tool"}}
	c.families["turns_total"] = family{help: "Agent entry point invocations by kind and outcome.", kind: "counter", labelNames: []string{"kind", "outcome"}}
	c.families["confirmations_total"] = family{help: "Confirmation gate events.", kind: "counter", labelNames: []string{"event"}}
	c.families["jobs_total"] = family{help: "Asynchronous jobs by kind and final status.", kind: "counter", labelNames: []string{"kind", "status"}}
	return c
}

// ObserveLLMCall 记录一次模型调用。
func ObserveLLMCall(success bool, duration time.Duration) {
	defaultCollector.inc("llm_calls_total", outcome(success))
	defaultCollector.observe("llm_call_duration_seconds", duration)
}

// ObserveToolCall 记录一次工具调度。
func ObserveToolCall(tool string, success bool, duration time.Duration) {
	defaultCollector.inc("tool_calls_total", tool, outcome(success))
	defaultCollector.observe("tool_call_duration_seconds", duration, tool)
}

// ObserveTurn 记录一次入口调用（process、confirm、plan、execute_plan）。
func ObserveTurn(kind string, success bool) {
	defaultCollector.inc("turns_total", kind, outcome(success))
}

// ObserveConfirmation 记录确认闸门事件，例如 requested、confirmed、rejected。
func ObserveConfirmation(event string) {
	defaultCollector.inc("confirmations_total", event)
}

// ObserveJob 记录异步任务的终态。
func ObserveJob(kind, status string) {
	defaultCollector.inc("jobs_total", kind, status)
}

// Reset 清空所有样本。
func Reset() {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	defaultCollector.counters = make(map[counterKey]uint64)
	defaultCollector.histograms = make(map[counterKey]*histogram)
}

// CounterValue 返回计数器当前值，标签按声明顺序给出。
func CounterValue(name string, labels ...string) uint64 {
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	return defaultCollector.counters[counterKey{name: name, labels: strings.Join(labels, "\x00")}]
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (c *collector) inc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[counterKey{name: name, labels: strings.Join(labels, "\x00")}]++
}

func (c *collector) observe(name string, d time.Duration, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := counterKey{name: name, labels: strings.Join(labels, "\x00")}
	hist := c.histograms[key]
	if hist == nil {
		hist = newHistogram()
		c.histograms[key] = hist
	}
	hist.observe(d.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// 超过最后一个桶的值只计入 +Inf（即 count）。
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.families))
	for name := range c.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder strings.Builder
	builder.Grow(1024)
	for _, name := range names {
		fam := c.families[name]
		full := namespace + "_" + name
		builder.WriteString(fmt.Sprintf("# HELP %s %s\n# TYPE %s %s\n", full, fam.help, full, fam.kind))

		if fam.kind == "counter" {
			var keys []counterKey
			for key := range c.counters {
				if key.name == name {
					keys = append(keys, key)
				}
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i].labels < keys[j].labels })
			for _, key := range keys {
				builder.WriteString(fmt.Sprintf("%s%s %d\n", full, labelSet(fam.labelNames, key.labels, ""), c.counters[key]))
			}
			continue
		}

		var keys []counterKey
		for key := range c.histograms {
			if key.name == name {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].labels < keys[j].labels })
		for _, key := range keys {
			hist := c.histograms[key]
			for idx, bound := range hist.buckets {
				builder.WriteString(fmt.Sprintf("%s_bucket%s %d\n", full, labelSet(fam.labelNames, key.labels, formatFloat(bound)), hist.counts[idx]))
			}
			builder.WriteString(fmt.Sprintf("%s_bucket%s %d\n", full, labelSet(fam.labelNames, key.labels, "+Inf"), hist.count))
			builder.WriteString(fmt.Sprintf("%s_sum%s %s\n", full, labelSet(fam.labelNames, key.labels, ""), formatFloat(hist.sum)))
			builder.WriteString(fmt.Sprintf("%s_count%s %d\n", full, labelSet(fam.labelNames, key.labels, ""), hist.count))
		}
	}
	return builder.String()
}

func labelSet(names []string, joined, le string) string {
	var values []string
	if len(names) > 0 {
		values = strings.Split(joined, "\x00")
	}
	var parts []string
	for i, name := range names {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", name, escape(value)))
	}
	if le != "" {
		parts = append(parts, fmt.Sprintf("le=\"%s\"", le))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
