package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func singleSpan(t *testing.T, recorder *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	return spans[0]
}

func attributeValue(span sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, attr := range span.Attributes() {
		if attr.Key == key {
			return attr.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query", "audit_entries", DBOperationQuery, "query audit_entries"},
		{"insert", "audit_entries", DBOperationInsert, "insert audit_entries"},
		{"update", "chain_cursors", DBOperationUpdate, "update chain_cursors"},
		{"delete", "audit_secrets", DBOperationDelete, "delete audit_secrets"},
		{"exec", "schema_migrations", DBOperationExec, "exec schema_migrations"},
		{"no table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newSpanRecorder(t)

			_, endSpan := StartDBSpan(context.Background(), tt.table, tt.operation)
			endSpan(nil)

			span := singleSpan(t, recorder)
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}

			if got, ok := attributeValue(span, "db.system"); !ok || got != "postgresql" {
				t.Errorf("db.system = %q (present=%v), want postgresql", got, ok)
			}
			if got, ok := attributeValue(span, "db.operation"); !ok || got != string(tt.operation) {
				t.Errorf("db.operation = %q (present=%v), want %q", got, ok, tt.operation)
			}
			got, ok := attributeValue(span, "db.sql.table")
			if tt.table == "" && ok {
				t.Errorf("unexpected db.sql.table attribute %q", got)
			}
			if tt.table != "" && got != tt.table {
				t.Errorf("db.sql.table = %q, want %q", got, tt.table)
			}
		})
	}
}

func TestStartDBSpan_RecordsError(t *testing.T) {
	recorder := newSpanRecorder(t)
	dbErr := errors.New("connection reset")

	_, endSpan := StartDBSpan(context.Background(), "audit_entries", DBOperationQuery)
	endSpan(dbErr)

	span := singleSpan(t, recorder)
	if span.Status().Code.String() != "Error" {
		t.Errorf("status = %s, want Error", span.Status().Code.String())
	}
	if span.Status().Description != dbErr.Error() {
		t.Errorf("status description = %q, want %q", span.Status().Description, dbErr.Error())
	}
}

func TestStartSpan(t *testing.T) {
	recorder := newSpanRecorder(t)

	_, endSpan := StartSpan(context.Background(), "verify_chain")
	endSpan(nil)

	span := singleSpan(t, recorder)
	if span.Name() != "verify_chain" {
		t.Errorf("span name = %q, want verify_chain", span.Name())
	}
	// Unset is the default status for a span ended without error.
	if code := span.Status().Code.String(); code != "Unset" && code != "Ok" {
		t.Errorf("status = %s, want Unset or Ok", code)
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	recorder := newSpanRecorder(t)

	_, endSpan := StartSpan(context.Background(), "verify_chain")
	endSpan(errors.New("secret store unavailable"))

	span := singleSpan(t, recorder)
	if span.Status().Code.String() != "Error" {
		t.Errorf("status = %s, want Error", span.Status().Code.String())
	}
}

func TestAddEvent(t *testing.T) {
	recorder := newSpanRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "verify_chain")
	AddEvent(ctx, "chain_break",
		attribute.String("entry_id", "0199x"),
		attribute.String("reason", "hash_mismatch"),
	)
	span.End()

	events := singleSpan(t, recorder).Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "chain_break" {
		t.Errorf("event name = %q, want chain_break", events[0].Name)
	}
	if len(events[0].Attributes) != 2 {
		t.Errorf("expected 2 event attributes, got %d", len(events[0].Attributes))
	}
}

func TestSetAttributes(t *testing.T) {
	recorder := newSpanRecorder(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "verify_chain")
	SetAttributes(ctx,
		attribute.String("chain_id", "user:alice"),
		attribute.Int64("entries_total", 42),
	)
	span.End()

	got, ok := attributeValue(singleSpan(t, recorder), "chain_id")
	if !ok || got != "user:alice" {
		t.Errorf("chain_id = %q (present=%v), want user:alice", got, ok)
	}
}
