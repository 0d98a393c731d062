package grpccas

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ubec.eco/reciprocity/cidutil"
	"ubec.eco/reciprocity/contentstore"
)

// Server exposes any contentstore.CAS over gRPC.
type Server struct {
	UnimplementedCASServer
	cas contentstore.CAS
}

func NewServer(cas contentstore.CAS) *Server { return &Server{cas: cas} }

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "missing payload")
	}
	id, err := s.cas.Put(ctx, in.Value)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if in == nil || in.Value == "" {
		return nil, status.Error(codes.InvalidArgument, "missing cid")
	}
	id, err := cidutil.Parse(in.Value)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	data, err := s.cas.Get(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if in == nil || in.Value == "" {
		return nil, status.Error(codes.InvalidArgument, "missing cid")
	}
	id, err := cidutil.Parse(in.Value)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(s.cas.Has(ctx, id)), nil
}

// mapErr translates contentstore sentinels into gRPC status codes. The
// mapping is the inverse of mapRPC on the client side.
func mapErr(err error) error {
	switch {
	case errors.Is(err, contentstore.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, contentstore.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, contentstore.ErrCIDMismatch):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, contentstore.ErrImmutable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, contentstore.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
