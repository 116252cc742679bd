package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tybalt/worklog-classifier/internal/classify"
	"github.com/tybalt/worklog-classifier/internal/llm"
	"github.com/tybalt/worklog-classifier/internal/pipeline"
)

// routedClient answers by matching a description fragment in the latest user
// message. Each fragment maps to the responses for its first and second call.
type routedClient struct {
	mu     sync.Mutex
	routes map[string][]string
	seen   map[string]int
	calls  int
}

func newRoutedClient(routes map[string][]string) *routedClient {
	return &routedClient{routes: routes, seen: map[string]int{}}
}

func (c *routedClient) Model() string { return "routed" }

func (c *routedClient) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	prompt := msgs[len(msgs)-1].Content
	for frag, responses := range c.routes {
		if !strings.Contains(prompt, frag) {
			continue
		}
		n := c.seen[frag]
		c.seen[frag]++
		if n >= len(responses) {
			return "", errors.New("routed client: no response left")
		}
		return responses[n], nil
	}
	return "", llm.Transport("chat", 500, fmt.Errorf("no route for prompt %q", prompt))
}

func (c *routedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestClassifyRecords_WorkedExamples(t *testing.T) {
	client := newRoutedClient(map[string][]string{
		"DS-Login":      {`{"type":"Tybalt"}`},
		"Reset VPN":     {`{"type":"Partial","IT_Description":"Reset VPN","IT_Hours":2,"Tybalt_Description":"Fix ETL job","Tybalt_Hours":4}`, `{"type":"Partial","IT_Description":"Reset VPN","IT_Hours":1,"Tybalt_Description":"Fix ETL job","Tybalt_Hours":4}`},
		"Printer setup": {`{"type": "it work"}`},
	})
	c := classify.New(client, classify.Options{})

	records := []pipeline.Record{
		{Row: 1, Description: "DS-Login refactor", Hours: "3"},
		{Row: 2, Description: "Reset VPN, fixed ETL job", Hours: "5"},
		{Row: 3, Description: "Printer setup", Hours: "1"},
	}
	out, err := pipeline.ClassifyRecords(context.Background(), records, c, pipeline.Options{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
	for i, o := range out {
		if o.Record.Row != i+1 {
			t.Fatalf("outcome %d out of order: %#v", i, o.Record)
		}
		if o.Status != pipeline.StatusClassified {
			t.Fatalf("outcome %d: expected classified, got %s (%s)", i, o.Status, o.Reason)
		}
	}
	if out[0].Result.Category != classify.CategoryTybalt {
		t.Fatalf("unexpected row 1: %#v", out[0].Result)
	}
	if out[1].Result.Category != classify.CategoryPartial || out[1].Result.Breakdown == nil ||
		out[1].Result.Breakdown.ITHours != 1 || out[1].Result.Breakdown.TybaltHours != 4 {
		t.Fatalf("unexpected row 2: %#v", out[1].Result)
	}
	if len(out[1].Trace.Attempts) != 2 {
		t.Fatalf("expected corrective retry on row 2, got %d attempts", len(out[1].Trace.Attempts))
	}
	if out[2].Result.Category != classify.CategoryIT {
		t.Fatalf("unexpected row 3: %#v", out[2].Result)
	}
	if got := client.Calls(); got != 4 {
		t.Fatalf("expected 4 model calls, got %d", got)
	}
}

func TestClassifyRecords_SkipsWithoutCalling(t *testing.T) {
	client := newRoutedClient(nil)
	c := classify.New(client, classify.Options{})

	records := []pipeline.Record{
		{Row: 1, Description: "already done", Hours: "2", Category: " Tybalt "},
		{Row: 2, Description: "   ", Hours: "1"},
		{Row: 3, Description: "no hours"},
		{Row: 4, Description: "bad hours", Hours: "two"},
		{Row: 5, Description: "negative", Hours: "-1"},
	}
	out, err := pipeline.ClassifyRecords(context.Background(), records, c, pipeline.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []pipeline.Status{
		pipeline.StatusKept,
		pipeline.StatusDefaulted,
		pipeline.StatusSkipped,
		pipeline.StatusSkipped,
		pipeline.StatusSkipped,
	}
	for i, o := range out {
		if o.Status != want[i] {
			t.Fatalf("row %d: expected %s, got %s", i+1, want[i], o.Status)
		}
	}
	if out[1].Result.Category != classify.CategoryIT || out[1].Result.Breakdown != nil {
		t.Fatalf("expected empty description to default to IT, got %#v", out[1].Result)
	}
	for _, i := range []int{2, 3, 4} {
		if out[i].Reason == "" {
			t.Fatalf("row %d: expected a skip reason", i+1)
		}
	}
	if got := client.Calls(); got != 0 {
		t.Fatalf("expected no model calls, got %d", got)
	}
}

func TestClassifyRecords_NonCanonicalCategoryIsReclassified(t *testing.T) {
	client := newRoutedClient(map[string][]string{"Backup": {`{"type":"IT"}`}})
	c := classify.New(client, classify.Options{})

	out, err := pipeline.ClassifyRecords(context.Background(), []pipeline.Record{
		{Row: 1, Description: "Backup rotation", Hours: "1", Category: "tybalt-ish"},
	}, c, pipeline.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Status != pipeline.StatusClassified || out[0].Result.Category != classify.CategoryIT {
		t.Fatalf("unexpected outcome: %#v", out[0])
	}
}

func TestClassifyRecords_FailuresDoNotAbort(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	client := newRoutedClient(map[string][]string{
		"Mixed": {
			`{"type":"Partial","IT_Description":"a","IT_Hours":2,"Tybalt_Description":"b","Tybalt_Hours":4}`,
			`{"type":"Partial","IT_Description":"a","IT_Hours":2,"Tybalt_Description":"b","Tybalt_Hours":4}`,
		},
		"Fine": {`{"type":"Tybalt"}`},
	})
	c := classify.New(client, classify.Options{})

	out, err := pipeline.ClassifyRecords(context.Background(), []pipeline.Record{
		{Row: 1, Description: "Mixed work", Hours: "5"},
		{Row: 2, Description: "Outage key=sk-abcdefghijklmnop", Hours: "1"},
		{Row: 3, Description: "Fine work", Hours: "2"},
	}, c, pipeline.Options{Workers: 1, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out[0].Status != pipeline.StatusFailed || len(out[0].Trace.Attempts) != 2 {
		t.Fatalf("expected row 1 to fail after two attempts, got %#v", out[0])
	}
	if out[0].Result.Category != "" {
		t.Fatalf("failed row must not carry a category, got %q", out[0].Result.Category)
	}
	if out[1].Status != pipeline.StatusFailed || len(out[1].Trace.Attempts) != 1 {
		t.Fatalf("expected row 2 to fail on transport without retry, got %#v", out[1])
	}
	if out[2].Status != pipeline.StatusClassified {
		t.Fatalf("expected row 3 to be classified, got %#v", out[2])
	}

	failures := logs.FilterMessage("classification failed").All()
	if len(failures) != 2 {
		t.Fatalf("expected 2 failure logs, got %d", len(failures))
	}
	for _, entry := range failures {
		if strings.Contains(entry.ContextMap()["reason"].(string), "sk-abcdefghijklmnop") {
			t.Fatalf("secret leaked into log: %v", entry.ContextMap())
		}
	}
}

func TestClassifyRecords_Limit(t *testing.T) {
	client := newRoutedClient(map[string][]string{"work": {`{"type":"IT"}`, `{"type":"IT"}`}})
	c := classify.New(client, classify.Options{})

	records := []pipeline.Record{
		{Row: 1, Description: "work a", Hours: "1"},
		{Row: 2, Description: "work b", Hours: "1"},
		{Row: 3, Description: "work c", Hours: "1"},
	}
	out, err := pipeline.ClassifyRecords(context.Background(), records, c, pipeline.Options{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Status != pipeline.StatusClassified {
		t.Fatalf("expected first row classified, got %s", out[0].Status)
	}
	if out[1].Status != pipeline.StatusUnsampled || out[2].Status != pipeline.StatusUnsampled {
		t.Fatalf("expected rows beyond limit to be unsampled, got %s %s", out[1].Status, out[2].Status)
	}
	if got := client.Calls(); got != 1 {
		t.Fatalf("expected 1 model call, got %d", got)
	}

	s := pipeline.Summarize(out)
	if s.Classified != 1 || s.Unsampled != 2 {
		t.Fatalf("unexpected summary: %#v", s)
	}
}

func TestClassifyRecords_Idempotent(t *testing.T) {
	client := newRoutedClient(nil)
	c := classify.New(client, classify.Options{})

	records := []pipeline.Record{
		{Row: 1, Description: "x", Hours: "1", Category: "IT"},
		{Row: 2, Description: "y", Hours: "2", Category: "Partial"},
		{Row: 3, Description: "z", Hours: "3", Category: "Tybalt"},
	}
	out, err := pipeline.ClassifyRecords(context.Background(), records, c, pipeline.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := pipeline.Summarize(out); s.Kept != 3 {
		t.Fatalf("expected all rows kept, got %#v", s)
	}
	if got := client.Calls(); got != 0 {
		t.Fatalf("expected no model calls on a fully categorized table, got %d", got)
	}
}

func TestClassifyRecords_CancelledContext(t *testing.T) {
	client := newRoutedClient(map[string][]string{"work": {`{"type":"IT"}`}})
	c := classify.New(client, classify.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipeline.ClassifyRecords(ctx, []pipeline.Record{{Row: 1, Description: "work", Hours: "1"}}, c, pipeline.Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
