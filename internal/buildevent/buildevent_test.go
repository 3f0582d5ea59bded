package buildevent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/k11v/nativebuild/internal/amqputil"
)

func testEvent() *Event {
	return &Event{
		ID:        uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"),
		Time:      time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC),
		State:     "finished",
		Platform:  "android",
		Account:   "acme",
		Project:   "widget",
		ProjectID: "p1",
		BuildID:   "b1",
		Status:    "finished",
		BuildURL:  "https://cdn/app.apk",
		LogsURL:   "https://logs/b1",
	}
}

func TestLogPublisher(t *testing.T) {
	buf := new(bytes.Buffer)
	p := &LogPublisher{Log: slog.New(slog.NewJSONHandler(buf, nil))}

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("didn't want %q", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("didn't want %q", err)
	}
	want := map[string]string{
		"msg":       "build event",
		"level":     "INFO",
		"state":     "finished",
		"build_id":  "b1",
		"build_url": "https://cdn/app.apk",
		"logs_url":  "https://logs/b1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got %v %s, want %v", got[k], k, v)
		}
	}
	if _, ok := got["error"]; ok {
		t.Errorf("got error attribute, want none")
	}
}

func TestLogPublisherError(t *testing.T) {
	buf := new(bytes.Buffer)
	p := &LogPublisher{Log: slog.New(slog.NewJSONHandler(buf, nil))}
	e := testEvent()
	e.State = "errored"
	e.Error = "upload failed"

	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("didn't want %q", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("didn't want %q", err)
	}
	if got["level"] != "ERROR" || got["error"] != "upload failed" {
		t.Errorf("got %v, want an error-level record with the error", got)
	}
}

type spyPublisher struct {
	Err    error
	Events []*Event
}

func (p *spyPublisher) Publish(ctx context.Context, e *Event) error {
	p.Events = append(p.Events, e)
	return p.Err
}

func TestMulti(t *testing.T) {
	errPublish := errors.New("broker is down")
	first := &spyPublisher{Err: errPublish}
	second := &spyPublisher{}

	err := Multi{first, second}.Publish(context.Background(), testEvent())

	if !errors.Is(err, errPublish) {
		t.Errorf("got %v, want %v", err, errPublish)
	}
	if len(first.Events) != 1 || len(second.Events) != 1 {
		t.Errorf("got %d and %d events, want 1 and 1", len(first.Events), len(second.Events))
	}
}

func TestAMQPPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	t.Run("publishes and receives events", func(t *testing.T) {
		ctx := context.Background()
		p := NewTestAMQPPublisher(t, ctx)
		e := testEvent()

		if err := p.Publish(ctx, e); err != nil {
			t.Fatalf("didn't want %q", err)
		}

		got, err := p.Receive(ctx)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if want := e; !reflect.DeepEqual(got, want) {
			t.Logf("got %v", got)
			t.Fatalf("want %v", want)
		}
	})

	t.Run("receives every queued event", func(t *testing.T) {
		ctx := context.Background()
		p := NewTestAMQPPublisher(t, ctx)
		states := []string{"uploaded", "submitted", "finished"}
		for _, state := range states {
			e := testEvent()
			e.ID = uuid.New()
			e.State = state
			if err := p.Publish(ctx, e); err != nil {
				t.Fatalf("didn't want %q", err)
			}
		}

		receiveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		got := make(map[string]int)
		for range states {
			e, err := p.Receive(receiveCtx)
			if err != nil {
				t.Fatalf("didn't want %q after %v", err, got)
			}
			got[e.State]++
		}

		want := map[string]int{"uploaded": 1, "submitted": 1, "finished": 1}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("stops receiving on cancellation", func(t *testing.T) {
		ctx := context.Background()
		p := NewTestAMQPPublisher(t, ctx)
		cancelCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		_, err := p.Receive(cancelCtx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("got %v, want %v", err, context.DeadlineExceeded)
		}
	})
}

func NewTestAMQPPublisher(tb testing.TB, ctx context.Context) *AMQPPublisher {
	tb.Helper()

	username := "guest"
	password := "guest"

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "rabbitmq:4.0-alpine",
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": username,
				"RABBITMQ_DEFAULT_PASS": password,
			},
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog(".*Server startup complete.*").AsRegexp().WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	}

	c, err := testcontainers.GenericContainer(ctx, req)
	testcontainers.CleanupContainer(tb, c)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	endpoint, err := c.PortEndpoint(ctx, nat.Port("5672/tcp"), "")
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	connectionString := fmt.Sprintf("amqp://%s:%s@%s", username, password, endpoint)
	client := amqputil.NewClient(connectionString, &amqputil.QueueDeclareParams{Name: DefaultQueue})
	return NewAMQPPublisher(client)
}
