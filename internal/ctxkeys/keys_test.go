package ctxkeys

import (
	"context"
	"testing"
	"time"
)

func TestRequestMetaRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		meta RequestMeta
	}{
		{
			name: "full meta",
			meta: RequestMeta{ClientIP: "10.1.2.3", UserAgent: "agent-sdk/1.4", ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		},
		{
			name: "zero value",
			meta: RequestMeta{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithRequestMeta(context.Background(), tt.meta)
			got, ok := RequestMetaFrom(ctx)
			if !ok {
				t.Fatal("expected ok=true, got false")
			}
			if got != tt.meta {
				t.Errorf("got %+v, want %+v", got, tt.meta)
			}
		})
	}
}

func TestRequestMetaFromEmptyContext(t *testing.T) {
	got, ok := RequestMetaFrom(context.Background())
	if ok {
		t.Fatal("expected ok=false for empty context")
	}
	if got != (RequestMeta{}) {
		t.Errorf("expected zero RequestMeta, got %+v", got)
	}
}

func TestAuthInfoRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		info AuthInfo
	}{
		{
			name: "bearer header",
			info: AuthInfo{Scheme: "bearer", Credential: "eyJhbGciOi..."},
		},
		{
			name: "actor reference",
			info: AuthInfo{Scheme: "reference", Credential: "dr-osei@token-1"},
		},
		{
			name: "zero value",
			info: AuthInfo{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithAuthInfo(context.Background(), tt.info)
			got, ok := AuthInfoFrom(ctx)
			if !ok {
				t.Fatal("expected ok=true, got false")
			}
			if got != tt.info {
				t.Errorf("got %+v, want %+v", got, tt.info)
			}
		})
	}
}

func TestAuthInfoFromEmptyContext(t *testing.T) {
	got, ok := AuthInfoFrom(context.Background())
	if ok {
		t.Fatal("expected ok=false for empty context")
	}
	if got != (AuthInfo{}) {
		t.Errorf("expected zero AuthInfo, got %+v", got)
	}
}

func TestKeysDontInterfere(t *testing.T) {
	meta := RequestMeta{ClientIP: "192.0.2.9", ReceivedAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)}
	info := AuthInfo{Scheme: "bearer", Credential: "tok-123"}

	ctx := context.Background()
	ctx = WithRequestMeta(ctx, meta)
	ctx = WithAuthInfo(ctx, info)

	gotMeta, ok := RequestMetaFrom(ctx)
	if !ok || gotMeta != meta {
		t.Errorf("RequestMeta: got %+v, want %+v", gotMeta, meta)
	}

	gotInfo, ok := AuthInfoFrom(ctx)
	if !ok || gotInfo != info {
		t.Errorf("AuthInfo: got %+v, want %+v", gotInfo, info)
	}
}
