package viewbridge

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestHostExportsPropagateErrors(t *testing.T) {
	if _, err := NewHost(context.Background(), nil, NewNopLogger(), HostDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}

	if _, err := NewView(context.Background(), &Config{}, Identity{}, NewNopLogger(), ViewDependencies{}); !errors.Is(err, ErrNodeIDRequired) {
		t.Fatalf("expected node id required error, got %v", err)
	}
}

func TestLoggerExports(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(&buf, "debug")
	logger.Info("boot", LogFields{"component": "test"})
	if buf.Len() == 0 {
		t.Fatal("expected default logger to write output")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata(MetadataKeyOrigin, "https://host.example")
	if md.Origin() != "https://host.example" {
		t.Fatalf("expected metadata to carry origin, got %#v", md)
	}
}

func TestNamespacesExport(t *testing.T) {
	ns := NewNamespaces()
	ns.Register("checkout", ViewMethods{
		"init": func(context.Context, ...any) (any, error) { return nil, nil },
	})
	if !ns.Has("checkout") {
		t.Fatal("expected namespace to be registered")
	}
}

func TestChannelTransportRegistered(t *testing.T) {
	if !DefaultTransportRegistry.Has("channel") {
		t.Fatal("expected channel transport to be registered")
	}
	if DefaultTransportRegistry.GetCapabilities("channel").CrossProcess {
		t.Fatal("channel transport must not report cross-process delivery")
	}
}

func TestCallErrorUnwrap(t *testing.T) {
	err := error(&CallError{Method: "validate", RequestID: "r1", Err: ErrCallTimeout})
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("expected call error to unwrap to timeout, got %v", err)
	}
}
