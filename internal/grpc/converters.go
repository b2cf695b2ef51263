package grpc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// convertCapInfoToProto converts CacheCapInfo to a Struct
func convertCapInfoToProto(c models.CacheCapInfo) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"capPercent":        structpb.NewNumberValue(float64(c.CapPercent)),
		"hardCapPercentage": structpb.NewNumberValue(float64(c.HardCapPercentage)),
		"softCapPercentage": structpb.NewNumberValue(float64(c.SoftCapPercentage)),
	}}
}

// convertGroupInfoToProto converts CacheGroupInfo to a Struct
func convertGroupInfoToProto(g models.CacheGroupInfo) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":      structpb.NewStringValue(g.Name),
		"entries":   structpb.NewNumberValue(float64(g.Entries)),
		"size":      structpb.NewNumberValue(float64(g.Size)),
		"hits":      structpb.NewNumberValue(float64(g.Hits)),
		"misses":    structpb.NewNumberValue(float64(g.Misses)),
		"evictions": structpb.NewNumberValue(float64(g.Evictions)),
	}}
}

// convertCacheInfoToProto converts CacheInfo to a Struct
func convertCacheInfoToProto(i models.CacheInfo) *structpb.Struct {
	regions := make([]*structpb.Value, len(i.Regions))
	for idx, region := range i.Regions {
		regions[idx] = structpb.NewStructValue(convertGroupInfoToProto(region))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"cap":          structpb.NewStructValue(convertCapInfoToProto(i.Cap)),
		"burden":       structpb.NewNumberValue(float64(i.Burden)),
		"total":        structpb.NewNumberValue(float64(i.Total)),
		"hardCapBytes": structpb.NewNumberValue(float64(i.HardCapBytes)),
		"softCapBytes": structpb.NewNumberValue(float64(i.SoftCapBytes)),
		"regions":      structpb.NewListValue(&structpb.ListValue{Values: regions}),
	}}
}

// convertRegionsToProto converts region names to a ListValue
func convertRegionsToProto(names []string) *structpb.ListValue {
	values := make([]*structpb.Value, len(names))
	for i, name := range names {
		values[i] = structpb.NewStringValue(name)
	}
	return &structpb.ListValue{Values: values}
}

// ConvertCapInfoFromProto converts a Struct back to CacheCapInfo
func ConvertCapInfoFromProto(s *structpb.Struct) models.CacheCapInfo {
	f := s.GetFields()
	return models.CacheCapInfo{
		CapPercent:        int(f["capPercent"].GetNumberValue()),
		HardCapPercentage: int(f["hardCapPercentage"].GetNumberValue()),
		SoftCapPercentage: int(f["softCapPercentage"].GetNumberValue()),
	}
}

// ConvertGroupInfoFromProto converts a Struct back to CacheGroupInfo
func ConvertGroupInfoFromProto(s *structpb.Struct) models.CacheGroupInfo {
	f := s.GetFields()
	return models.CacheGroupInfo{
		Name:      f["name"].GetStringValue(),
		Entries:   int64(f["entries"].GetNumberValue()),
		Size:      int64(f["size"].GetNumberValue()),
		Hits:      int64(f["hits"].GetNumberValue()),
		Misses:    int64(f["misses"].GetNumberValue()),
		Evictions: int64(f["evictions"].GetNumberValue()),
	}
}

// ConvertCacheInfoFromProto converts a Struct back to CacheInfo
func ConvertCacheInfoFromProto(s *structpb.Struct) models.CacheInfo {
	f := s.GetFields()
	info := models.CacheInfo{
		Cap:          ConvertCapInfoFromProto(f["cap"].GetStructValue()),
		Burden:       int64(f["burden"].GetNumberValue()),
		Total:        int64(f["total"].GetNumberValue()),
		HardCapBytes: int64(f["hardCapBytes"].GetNumberValue()),
		SoftCapBytes: int64(f["softCapBytes"].GetNumberValue()),
	}
	values := f["regions"].GetListValue().GetValues()
	info.Regions = make([]models.CacheGroupInfo, 0, len(values))
	for _, v := range values {
		info.Regions = append(info.Regions, ConvertGroupInfoFromProto(v.GetStructValue()))
	}
	return info
}

// ConvertRegionsFromProto converts a ListValue back to region names
func ConvertRegionsFromProto(l *structpb.ListValue) []string {
	names := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names
}

// fieldViolation describes an invalid field of an UpdateCap request.
type fieldViolation struct {
	field       string
	description string
}

func (v *fieldViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.field, v.description)
}

// convertCapUpdateFromProto reads the optional "heap", "hard" and "soft" integer fields.
func convertCapUpdateFromProto(s *structpb.Struct) (models.CapUpdate, error) {
	var update models.CapUpdate
	for _, p := range []struct {
		name   string
		target **int
	}{
		{"heap", &update.Heap},
		{"hard", &update.Hard},
		{"soft", &update.Soft},
	} {
		v, ok := s.GetFields()[p.name]
		if !ok {
			continue
		}
		n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
		if !isNumber {
			return models.CapUpdate{}, &fieldViolation{field: p.name, description: "must be a number"}
		}
		if n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
			return models.CapUpdate{}, &fieldViolation{field: p.name, description: "must be an integer percentage"}
		}
		value := int(n.NumberValue)
		*p.target = &value
	}
	return update, nil
}

// ConvertCapUpdateToProto converts a CapUpdate to the Struct accepted by UpdateCap
func ConvertCapUpdateToProto(u models.CapUpdate) *structpb.Struct {
	fields := make(map[string]*structpb.Value)
	if u.Heap != nil {
		fields["heap"] = structpb.NewNumberValue(float64(*u.Heap))
	}
	if u.Hard != nil {
		fields["hard"] = structpb.NewNumberValue(float64(*u.Hard))
	}
	if u.Soft != nil {
		fields["soft"] = structpb.NewNumberValue(float64(*u.Soft))
	}
	return &structpb.Struct{Fields: fields}
}
