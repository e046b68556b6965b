package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{ServiceName: "clinichain-api"})
	if err != nil {
		t.Fatalf("unexpected error for disabled tracing: %v", err)
	}
	if provider == nil {
		t.Fatal("expected non-nil provider")
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
}

func TestNewProvider_ConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing service name",
			cfg:  Config{Enabled: true, SamplingRate: 0.1},
		},
		{
			name: "negative sampling rate",
			cfg:  Config{ServiceName: "clinichain-api", Enabled: true, SamplingRate: -0.1},
		},
		{
			name: "sampling rate above one",
			cfg:  Config{ServiceName: "clinichain-api", Enabled: true, SamplingRate: 1.5},
		},
		{
			name: "unsupported exporter",
			cfg:  Config{ServiceName: "clinichain-api", Enabled: true, SamplingRate: 0.1, ExporterType: "zipkin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Error("expected a config error")
			}
		})
	}
}

func TestNewProvider_ValidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "otlp-http sampled",
			cfg: Config{
				ServiceName:  "clinichain-api",
				Enabled:      true,
				Environment:  "test",
				ExporterType: "otlp-http",
				OTLPEndpoint: "localhost:4318",
				SamplingRate: 0.1,
				InsecureMode: true,
			},
		},
		{
			name: "otlp-grpc always sample",
			cfg: Config{
				ServiceName:  "clinichain-verifier",
				Enabled:      true,
				Environment:  "test",
				ExporterType: "otlp-grpc",
				OTLPEndpoint: "localhost:4317",
				SamplingRate: 1.0,
				InsecureMode: true,
			},
		},
		{
			name: "default exporter never sample",
			cfg: Config{
				ServiceName:  "clinichain-api",
				Enabled:      true,
				Environment:  "test",
				SamplingRate: 0.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("expected tracing to be enabled")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				t.Errorf("unexpected shutdown error: %v", err)
			}
		})
	}
}

func TestProvider_Tracer(t *testing.T) {
	provider, err := NewProvider(Config{
		ServiceName:  "clinichain-api",
		Enabled:      true,
		Environment:  "test",
		ExporterType: "otlp-http",
		SamplingRate: 1.0,
		InsecureMode: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	tracer := provider.Tracer("verify")
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}

	_, span := tracer.Start(context.Background(), "verify_chain")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}

func TestProvider_Shutdown_NoProvider(t *testing.T) {
	provider := &Provider{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("unexpected error shutting down disabled provider: %v", err)
	}
}
