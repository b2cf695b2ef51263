package grpc

import (
	"context"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dhis2/dhis2-core-sub010/internal/cache"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

func newTestCache(t *testing.T) *cache.CappedLocalCache {
	t.Helper()
	c, err := cache.New(cache.Options{
		Name: t.Name(),
		Heap: cache.FixedHeap(1 << 20),
		Cap:  models.CacheCapInfo{CapPercent: 25, HardCapPercentage: 90, SoftCapPercentage: 75},
	})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func requireCode(t *testing.T, err error, want codes.Code) *status.Status {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("Expected gRPC status error, got %v", err)
	}
	if st.Code() != want {
		t.Fatalf("Expected code %v, got %v (%s)", want, st.Code(), st.Message())
	}
	return st
}

func TestServer_GetInfo(t *testing.T) {
	c := newTestCache(t)
	c.Put("users", "alice", make([]byte, 100))
	c.Put("orgs", "root", make([]byte, 300))
	c.Put("empty", "x", "x")
	c.Remove("empty", "x")
	srv := NewServer(c)

	resp, err := srv.GetInfo(context.Background(), wrapperspb.Bool(false))
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	info := ConvertCacheInfoFromProto(resp)
	if info.Burden != 400 {
		t.Errorf("Expected burden 400, got %d", info.Burden)
	}
	if info.Total != 1<<20/4 {
		t.Errorf("Expected total %d, got %d", 1<<20/4, info.Total)
	}
	if len(info.Regions) != 3 {
		t.Fatalf("Expected 3 regions, got %d", len(info.Regions))
	}
	if info.Regions[0].Name != "empty" {
		t.Errorf("Expected regions sorted by name, got %q first", info.Regions[0].Name)
	}

	resp, err = srv.GetInfo(context.Background(), wrapperspb.Bool(true))
	if err != nil {
		t.Fatalf("GetInfo condensed failed: %v", err)
	}
	condensed := ConvertCacheInfoFromProto(resp)
	if len(condensed.Regions) != 2 {
		t.Fatalf("Expected 2 non-empty regions, got %d", len(condensed.Regions))
	}
	if condensed.Regions[0].Name != "orgs" || condensed.Regions[1].Name != "users" {
		t.Errorf("Expected largest region first, got %q, %q", condensed.Regions[0].Name, condensed.Regions[1].Name)
	}
}

func TestServer_Regions(t *testing.T) {
	c := newTestCache(t)
	c.Put("b", "k", "v")
	c.Put("a", "k", "v")
	srv := NewServer(c)

	list, err := srv.ListRegions(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("ListRegions failed: %v", err)
	}
	names := ConvertRegionsFromProto(list)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Expected [a b], got %v", names)
	}

	region, err := srv.GetRegion(context.Background(), wrapperspb.String("a"))
	if err != nil {
		t.Fatalf("GetRegion failed: %v", err)
	}
	if got := ConvertGroupInfoFromProto(region); got.Name != "a" || got.Entries != 1 {
		t.Errorf("Unexpected region snapshot: %+v", got)
	}

	_, err = srv.GetRegion(context.Background(), wrapperspb.String("missing"))
	requireCode(t, err, codes.NotFound)
}

func TestServer_UpdateCap(t *testing.T) {
	c := newTestCache(t)
	srv := NewServer(c)

	update := 50
	if _, err := srv.UpdateCap(context.Background(), ConvertCapUpdateToProto(models.CapUpdate{Hard: &update, Soft: new(int)})); err != nil {
		t.Fatalf("UpdateCap failed: %v", err)
	}
	capResp, err := srv.GetCap(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("GetCap failed: %v", err)
	}
	want := models.CacheCapInfo{CapPercent: 25, HardCapPercentage: 50, SoftCapPercentage: 0}
	if got := ConvertCapInfoFromProto(capResp); got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestServer_UpdateCap_InvalidArgument(t *testing.T) {
	tests := []struct {
		name  string
		req   *structpb.Struct
		field string
	}{
		{
			name:  "out of range",
			req:   &structpb.Struct{Fields: map[string]*structpb.Value{"heap": structpb.NewNumberValue(101)}},
			field: "capPercent",
		},
		{
			name:  "soft above hard",
			req:   &structpb.Struct{Fields: map[string]*structpb.Value{"soft": structpb.NewNumberValue(95)}},
			field: "softCapPercentage",
		},
		{
			name:  "not a number",
			req:   &structpb.Struct{Fields: map[string]*structpb.Value{"hard": structpb.NewStringValue("80")}},
			field: "hard",
		},
		{
			name:  "fractional",
			req:   &structpb.Struct{Fields: map[string]*structpb.Value{"soft": structpb.NewNumberValue(12.5)}},
			field: "soft",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t)
			srv := NewServer(c)

			_, err := srv.UpdateCap(context.Background(), tt.req)
			st := requireCode(t, err, codes.InvalidArgument)

			var found bool
			for _, detail := range st.Details() {
				if br, ok := detail.(*errdetails.BadRequest); ok {
					for _, v := range br.GetFieldViolations() {
						if v.GetField() == tt.field {
							found = true
						}
					}
				}
			}
			if !found {
				t.Errorf("Expected BadRequest violation for %q, got %v", tt.field, st.Details())
			}

			want := models.CacheCapInfo{CapPercent: 25, HardCapPercentage: 90, SoftCapPercentage: 75}
			if got := c.CapInfo(); got != want {
				t.Errorf("Expected cap to stay %+v, got %+v", want, got)
			}
		})
	}
}

func TestServer_Invalidate(t *testing.T) {
	c := newTestCache(t)
	c.Put("users", "alice", "a")
	c.Put("orgs", "root", "r")
	srv := NewServer(c)

	if _, err := srv.InvalidateRegion(context.Background(), wrapperspb.String("users")); err != nil {
		t.Fatalf("InvalidateRegion failed: %v", err)
	}
	if _, ok := c.Get("users", "alice"); ok {
		t.Error("Expected users region to be cleared")
	}
	if _, ok := c.Get("orgs", "root"); !ok {
		t.Error("Expected orgs region to survive")
	}

	_, err := srv.InvalidateRegion(context.Background(), wrapperspb.String(""))
	requireCode(t, err, codes.InvalidArgument)

	if _, err := srv.Invalidate(context.Background(), &emptypb.Empty{}); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if c.Burden() != 0 {
		t.Errorf("Expected empty cache, burden is %d", c.Burden())
	}
}

func TestServer_Unavailable(t *testing.T) {
	srv := NewServer(nil)
	ctx := context.Background()

	_, err := srv.GetInfo(ctx, wrapperspb.Bool(false))
	requireCode(t, err, codes.FailedPrecondition)
	_, err = srv.ListRegions(ctx, &emptypb.Empty{})
	requireCode(t, err, codes.FailedPrecondition)
	_, err = srv.GetCap(ctx, &emptypb.Empty{})
	requireCode(t, err, codes.FailedPrecondition)
	_, err = srv.UpdateCap(ctx, &structpb.Struct{})
	requireCode(t, err, codes.FailedPrecondition)
	_, err = srv.Invalidate(ctx, &emptypb.Empty{})
	requireCode(t, err, codes.FailedPrecondition)
}
