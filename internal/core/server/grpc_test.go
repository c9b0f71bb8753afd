package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mtgjson/mtgjson-go/internal/core/api"
	"github.com/mtgjson/mtgjson-go/internal/core/auth"
	"github.com/mtgjson/mtgjson-go/internal/core/config"
	"github.com/mtgjson/mtgjson-go/internal/sdk"
	"github.com/mtgjson/mtgjson-go/internal/sdk/sdktest"
)

// startServer serves a restricted session over bufconn, the way serve-grpc
// does.
func startServer(t *testing.T, keys []string) *grpc.ClientConn {
	t.Helper()
	opts := sdktest.NewCDN(t).Options(t.TempDir(), 1)
	opts.Restricted = true
	session, err := sdk.Open(opts)
	if err != nil {
		t.Fatalf("sdk.Open: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	svc, err := api.NewBoosterService(session)
	if err != nil {
		t.Fatal(err)
	}
	authn, err := auth.NewAuthenticator(keys)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewGRPCServer(config.Default(), svc, authn)
	if err != nil {
		t.Fatal(err)
	}

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// startKeyed starts a server with one API key and returns a client and a
// context carrying that key.
func startKeyed(t *testing.T) (*api.Client, context.Context) {
	t.Helper()
	key, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	client := api.NewClient(startServer(t, []string{key}))
	return client, metadata.AppendToOutgoingContext(context.Background(), auth.HeaderName, key)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewGRPCServer_Validation(t *testing.T) {
	if _, err := NewGRPCServer(nil, nil, nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewGRPCServer(config.Default(), nil, nil); err == nil {
		t.Error("nil service accepted")
	}
}

func TestHealth(t *testing.T) {
	conn := startServer(t, nil)
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("status = %v", resp.GetStatus())
	}
}

func TestBoosterService(t *testing.T) {
	client, ctx := startKeyed(t)

	types, err := client.Call(ctx, "AvailableTypes", mustStruct(t, map[string]any{"set": "MH3"}))
	if err != nil {
		t.Fatalf("AvailableTypes: %v", err)
	}
	if got := types.GetFields()["types"].GetListValue().GetValues(); len(got) != 2 || got[1].GetStringValue() != "draft" {
		t.Errorf("types = %v", got)
	}

	packs, err := client.Call(ctx, "OpenPack", mustStruct(t, map[string]any{"set": "MH3", "type": "draft", "packs": 2}))
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}
	box := packs.GetFields()["packs"].GetListValue().GetValues()
	if len(box) != 2 || len(box[0].GetListValue().GetValues()) != 14 {
		t.Errorf("packs = %v", packs)
	}

	rows, err := client.Call(ctx, "SQL", mustStruct(t, map[string]any{
		"query":  "SELECT name FROM sets WHERE code = ?",
		"params": []any{"LEA"},
		"views":  []any{"sets"},
	}))
	if err != nil {
		t.Fatalf("SQL: %v", err)
	}
	got := rows.GetFields()["rows"].GetListValue().GetValues()
	if len(got) != 1 || got[0].GetStructValue().GetFields()["name"].GetStringValue() != "Limited Edition Alpha" {
		t.Errorf("rows = %v", got)
	}

	meta, err := client.Call(ctx, "Meta", &structpb.Struct{})
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if v := meta.GetFields()["meta"].GetStructValue().GetFields()["data"].GetStructValue().GetFields()["version"].GetStringValue(); v != sdktest.Version {
		t.Errorf("meta version = %q", v)
	}
}

func TestBoosterService_ErrorCodes(t *testing.T) {
	client, ctx := startKeyed(t)

	tests := []struct {
		name   string
		method string
		req    map[string]any
		want   codes.Code
	}{
		{"missing set", "AvailableTypes", map[string]any{}, codes.InvalidArgument},
		{"unknown set", "OpenPack", map[string]any{"set": "XXX", "type": "draft"}, codes.NotFound},
		{"too many packs", "OpenPack", map[string]any{"set": "MH3", "type": "draft", "packs": 1000}, codes.InvalidArgument},
		{"fractional packs", "OpenPack", map[string]any{"set": "MH3", "type": "draft", "packs": 1.5}, codes.InvalidArgument},
		{"bad sql", "SQL", map[string]any{"query": "SELECT * FROM"}, codes.Internal},
		{"unknown view", "SQL", map[string]any{"query": "SELECT 1", "views": []any{"nope"}}, codes.NotFound},
		{"copy statement", "SQL", map[string]any{"query": "COPY (SELECT 1) TO 'out.csv'"}, codes.InvalidArgument},
		{"second statement", "SQL", map[string]any{"query": "SELECT 1; INSTALL httpfs"}, codes.InvalidArgument},
		{"set statement", "SQL", map[string]any{"query": "SET enable_external_access = true"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Call(ctx, tt.method, mustStruct(t, tt.req))
			if status.Code(err) != tt.want {
				t.Errorf("code = %v (%v), want %v", status.Code(err), err, tt.want)
			}
		})
	}
}

func TestBoosterService_APIKey(t *testing.T) {
	key, _ := auth.GenerateAPIKey()
	conn := startServer(t, []string{key})
	client := api.NewClient(conn)
	req := mustStruct(t, map[string]any{"set": "MH3"})

	_, err := client.Call(context.Background(), "AvailableTypes", req)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("anonymous code = %v, want Unauthenticated", status.Code(err))
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), auth.HeaderName, key)
	if _, err := client.Call(ctx, "AvailableTypes", req); err != nil {
		t.Errorf("authorized call: %v", err)
	}

	if _, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{}); err != nil {
		t.Errorf("health check needs no key: %v", err)
	}
}

func TestBoosterService_SQLNeedsKeys(t *testing.T) {
	client := api.NewClient(startServer(t, nil))
	ctx := context.Background()

	_, err := client.Call(ctx, "SQL", mustStruct(t, map[string]any{"query": "SELECT 1"}))
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("SQL without keys: code = %v (%v), want Unimplemented", status.Code(err), err)
	}
	if _, err := client.Call(ctx, "AvailableTypes", mustStruct(t, map[string]any{"set": "MH3"})); err != nil {
		t.Errorf("AvailableTypes without keys: %v", err)
	}
}

func TestBoosterService_SQLConfinedToCache(t *testing.T) {
	client, ctx := startKeyed(t)

	secret := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(secret, []byte("hunter2"), 0o600); err != nil {
		t.Fatal(err)
	}
	lit := "'" + strings.ReplaceAll(filepath.ToSlash(secret), "'", "''") + "'"

	query := "SELECT content FROM read_text(" + lit + ")"
	resp, err := client.Call(ctx, "SQL", mustStruct(t, map[string]any{"query": query}))
	if err == nil {
		t.Fatalf("read_text outside the cache returned %v", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %v (%v), want Internal", status.Code(err), err)
	}
	if strings.Contains(status.Convert(err).Message(), "hunter2") {
		t.Errorf("error leaked file contents: %v", err)
	}
}
