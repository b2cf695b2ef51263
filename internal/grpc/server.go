package grpc

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dhis2/dhis2-core-sub010/internal/api"
	"github.com/dhis2/dhis2-core-sub010/internal/apperrors"
	"github.com/dhis2/dhis2-core-sub010/internal/config"
)

// server implements the CacheAdminServer interface
type server struct {
	admin  api.Admin // Nil when no cache is configured in this deployment.
	logger zerolog.Logger
}

// NewServer creates a new gRPC server instance
func NewServer(admin api.Admin) CacheAdminServer {
	return &server{
		admin:  admin,
		logger: config.GetLogger(),
	}
}

func (s *server) cache() (api.Admin, error) {
	if s.admin == nil {
		return nil, toStatus(apperrors.ErrCacheUnavailable)
	}
	return s.admin, nil
}

// GetInfo implements CacheAdminServer.GetInfo
func (s *server) GetInfo(_ context.Context, req *wrapperspb.BoolValue) (*structpb.Struct, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Bool("condensed", req.GetValue()).Msg("GetInfo called")

	info := admin.Info()
	if req.GetValue() {
		info = info.Condensed()
	}
	return convertCacheInfoToProto(info), nil
}

// ListRegions implements CacheAdminServer.ListRegions
func (s *server) ListRegions(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	return convertRegionsToProto(admin.Regions()), nil
}

// GetRegion implements CacheAdminServer.GetRegion
func (s *server) GetRegion(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	info, err := admin.RegionInfo(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return convertGroupInfoToProto(info), nil
}

// GetCap implements CacheAdminServer.GetCap
func (s *server) GetCap(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	return convertCapInfoToProto(admin.CapInfo()), nil
}

// UpdateCap implements CacheAdminServer.UpdateCap
func (s *server) UpdateCap(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	update, err := convertCapUpdateFromProto(req)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := admin.UpdateCap(update); err != nil {
		s.logger.Warn().Err(err).Msg("Rejected cap update")
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Invalidate implements CacheAdminServer.Invalidate
func (s *server) Invalidate(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	admin.Invalidate()
	return &emptypb.Empty{}, nil
}

// InvalidateRegion implements CacheAdminServer.InvalidateRegion
func (s *server) InvalidateRegion(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	admin, err := s.cache()
	if err != nil {
		return nil, err
	}
	if req.GetValue() == "" {
		return nil, toStatus(&fieldViolation{field: "value", description: "region name is required"})
	}
	admin.InvalidateRegion(req.GetValue())
	return &emptypb.Empty{}, nil
}

// toStatus maps application errors to gRPC status errors. Validation failures carry a
// BadRequest detail naming the offending field.
func toStatus(err error) error {
	var cfgErr *apperrors.ErrInvalidConfiguration
	var violation *fieldViolation
	var notFound *apperrors.ErrNotFound
	switch {
	case errors.As(err, &cfgErr):
		return badRequest(err, cfgErr.Field, cfgErr.Reason)
	case errors.As(err, &violation):
		return badRequest(err, violation.field, violation.description)
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, apperrors.ErrCacheUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func badRequest(err error, field, description string) error {
	st := status.New(codes.InvalidArgument, err.Error())
	detailed, detailErr := st.WithDetails(&errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{
			{Field: field, Description: description},
		},
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}
