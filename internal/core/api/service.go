// Package api exposes the SDK session over gRPC: booster simulation, raw
// SQL and metadata, with google.protobuf.Struct requests and responses.
package api

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mtgjson/mtgjson-go/internal/booster"
	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

// MaxPacks bounds a single OpenPack request.
const MaxPacks = 36

// Session is what the service needs from *sdk.Session.
type Session interface {
	Meta(ctx context.Context) (any, error)
	EnsureViews(ctx context.Context, names ...string) error
	SQL(ctx context.Context, query string, params ...any) ([]types.Row, error)
	Booster() *booster.Simulator
}

// BoosterService implements BoosterServer over a session.
type BoosterService struct {
	session Session
}

// NewBoosterService creates the service.
func NewBoosterService(session Session) (*BoosterService, error) {
	if session == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}
	return &BoosterService{session: session}, nil
}

// Meta returns {"meta": <metadata document>}.
func (s *BoosterService) Meta(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	meta, err := s.session.Meta(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]any{"meta": meta})
}

// AvailableTypes takes {"set": code} and returns {"types": [...]}.
func (s *BoosterService) AvailableTypes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	set, err := requireString(req, "set")
	if err != nil {
		return nil, err
	}
	kinds, err := s.session.Booster().AvailableTypes(ctx, set)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, len(kinds))
	for i, k := range kinds {
		list[i] = k
	}
	return respond(map[string]any{"set": set, "types": list})
}

// OpenPack takes {"set", "type", "packs"?} and returns {"packs": [[card...]...]}.
// packs defaults to 1.
func (s *BoosterService) OpenPack(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	set, err := requireString(req, "set")
	if err != nil {
		return nil, err
	}
	kind, err := requireString(req, "type")
	if err != nil {
		return nil, err
	}
	packs := 1
	if v, ok := req.GetFields()["packs"]; ok {
		n := v.GetNumberValue()
		if n != math.Trunc(n) || n < 1 || n > MaxPacks {
			return nil, status.Errorf(codes.InvalidArgument, "packs must be an integer between 1 and %d", MaxPacks)
		}
		packs = int(n)
	}

	box, err := s.session.Booster().OpenBox(ctx, set, kind, packs)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]any, len(box))
	for i, pack := range box {
		out[i] = rowsToList(pack)
	}
	return respond(map[string]any{"set": set, "type": kind, "packs": out})
}

// SQL takes {"query", "params"?, "views"?}. Listed views are materialized
// first. Only a single read-only statement is accepted. Returns
// {"rows": [...]}.
func (s *BoosterService) SQL(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := requireString(req, "query")
	if err != nil {
		return nil, err
	}
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}
	fields := req.GetFields()

	var views []string
	for _, v := range fields["views"].GetListValue().GetValues() {
		views = append(views, v.GetStringValue())
	}
	if len(views) > 0 {
		if err := s.session.EnsureViews(ctx, views...); err != nil {
			return nil, toStatus(err)
		}
	}

	var params []any
	for _, v := range fields["params"].GetListValue().GetValues() {
		params = append(params, v.AsInterface())
	}
	rows, err := s.session.SQL(ctx, query, params...)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]any{"rows": rowsToList(rows)})
}

// readOnlyLeads are the statement keywords SQL accepts.
var readOnlyLeads = map[string]bool{"SELECT": true, "WITH": true, "FROM": true, "VALUES": true}

// checkReadOnly accepts one statement that starts with a query keyword.
// Leading comments are skipped. A semicolon anywhere but the end is
// rejected, even inside a string literal.
func checkReadOnly(query string) error {
	q := strings.TrimRight(query, "; \t\r\n")
	if strings.Contains(q, ";") {
		return status.Error(codes.InvalidArgument, "query must be a single statement")
	}

	for {
		q = strings.TrimSpace(q)
		switch {
		case strings.HasPrefix(q, "--"):
			_, rest, _ := strings.Cut(q, "\n")
			q = rest
		case strings.HasPrefix(q, "/*"):
			_, rest, ok := strings.Cut(q[2:], "*/")
			if !ok {
				return status.Error(codes.InvalidArgument, "unterminated comment")
			}
			q = rest
		default:
			end := strings.IndexFunc(q, func(r rune) bool { return !unicode.IsLetter(r) })
			if end < 0 {
				end = len(q)
			}
			lead := strings.ToUpper(q[:end])
			if !readOnlyLeads[lead] {
				return status.Errorf(codes.InvalidArgument, "only SELECT queries are accepted, got %q", lead)
			}
			return nil
		}
	}
}

func requireString(req *structpb.Struct, key string) (string, error) {
	s := req.GetFields()[key].GetStringValue()
	if s == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return s, nil
}

func rowsToList(rows []types.Row) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}

// respond converts a canonical value tree into a Struct.
func respond(m map[string]any) (*structpb.Struct, error) {
	v, err := value.Canonicalize(m, value.Lossy)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	st, err := structpb.NewStruct(v.(map[string]any))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}
