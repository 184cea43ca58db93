package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
)

// testEvent is a minimal logiface.Event implementation capturing the
// structured records the Pool emits.
type testEvent struct {
	logiface.UnimplementedEvent
	level  logiface.Level
	msg    string
	fields map[string]any
}

func (e *testEvent) Level() logiface.Level { return e.level }
func (e *testEvent) AddField(key string, val any) {
	e.fields[key] = val
}
func (e *testEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

type testEventWriter struct {
	mu     sync.Mutex
	events []*testEvent
}

func (w *testEventWriter) Write(event *testEvent) error {
	w.mu.Lock()
	w.events = append(w.events, event)
	w.mu.Unlock()
	return nil
}

func (w *testEventWriter) messages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.events))
	for i, e := range w.events {
		out[i] = e.msg
	}
	return out
}

func newTestLogger(writer *testEventWriter) *logiface.Logger[logiface.Event] {
	return logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](logiface.NewEventFactoryFunc(func(level logiface.Level) *testEvent {
			return &testEvent{level: level, fields: make(map[string]any)}
		})),
		logiface.WithWriter[*testEvent](writer),
		logiface.WithLevel[*testEvent](logiface.LevelDebug),
	).Logger()
}

func TestPool_LogsLifecycleEvents(t *testing.T) {
	writer := &testEventWriter{}

	p := New(WithWorkerCount(1), WithNamePrefix("test.pool"), WithLogger(newTestLogger(writer)))
	p.Ref().ExecuteAt(Job(func() {}), time.Now().Add(time.Hour))
	p.CancelAll()
	p.Close()

	msgs := writer.messages()
	assert.Contains(t, msgs, "pool started")
	assert.Contains(t, msgs, "cancel all")
	assert.Contains(t, msgs, "pool stopped")

	// The cancel record carries the dropped-item count.
	for _, e := range writer.events {
		if e.msg == "cancel all" {
			assert.EqualValues(t, 1, e.fields["dropped"])
			assert.Equal(t, "test.pool", e.fields["pool"])
		}
	}
}

func TestPool_NilLoggerIsSafe(t *testing.T) {
	p := New(WithWorkerCount(1))
	p.CancelAll()
	p.Close()
}
