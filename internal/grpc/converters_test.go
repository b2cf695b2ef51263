package grpc

import (
	"reflect"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

func TestConvertCacheInfo_RoundTrip(t *testing.T) {
	info := models.CacheInfo{
		Cap:          models.CacheCapInfo{CapPercent: 25, HardCapPercentage: 90, SoftCapPercentage: 75},
		Burden:       1234,
		Total:        1 << 30,
		HardCapBytes: 966367641,
		SoftCapBytes: 805306368,
		Regions: []models.CacheGroupInfo{
			{Name: "orgs", Entries: 2, Size: 1000, Hits: 5, Misses: 1, Evictions: 3},
			{Name: "users", Entries: 1, Size: 234},
		},
	}

	got := ConvertCacheInfoFromProto(convertCacheInfoToProto(info))
	if !reflect.DeepEqual(info, got) {
		t.Errorf("Expected %+v, got %+v", info, got)
	}
}

func TestConvertCacheInfo_FieldNames(t *testing.T) {
	s := convertCacheInfoToProto(models.CacheInfo{})
	for _, name := range []string{"cap", "burden", "total", "hardCapBytes", "softCapBytes", "regions"} {
		if _, ok := s.GetFields()[name]; !ok {
			t.Errorf("Expected field %q", name)
		}
	}
	if regions := s.GetFields()["regions"].GetListValue(); regions == nil || len(regions.GetValues()) != 0 {
		t.Errorf("Expected empty regions list, got %v", regions)
	}
}

func TestConvertCapUpdateFromProto(t *testing.T) {
	update, err := convertCapUpdateFromProto(&structpb.Struct{Fields: map[string]*structpb.Value{
		"hard": structpb.NewNumberValue(80),
	}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if update.Heap != nil || update.Soft != nil {
		t.Errorf("Expected only hard to be set, got %+v", update)
	}
	if update.Hard == nil || *update.Hard != 80 {
		t.Errorf("Expected hard=80, got %v", update.Hard)
	}

	empty, err := convertCapUpdateFromProto(&structpb.Struct{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !empty.IsEmpty() {
		t.Errorf("Expected empty update, got %+v", empty)
	}

	if _, err := convertCapUpdateFromProto(&structpb.Struct{Fields: map[string]*structpb.Value{
		"heap": structpb.NewBoolValue(true),
	}}); err == nil {
		t.Error("Expected error for non-numeric heap")
	}
}

func TestConvertCapUpdate_RoundTrip(t *testing.T) {
	heap, soft := 30, 10
	in := models.CapUpdate{Heap: &heap, Soft: &soft}
	out, err := convertCapUpdateFromProto(ConvertCapUpdateToProto(in))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Expected %+v, got %+v", in, out)
	}
}
