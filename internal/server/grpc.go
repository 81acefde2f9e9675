package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

const validationSourceGRPC = "grpc"

// GRPCServer implements yomu.v1.BenefitService: evaluation, dry-run
// validation and a server-streaming watch of catalog changes.
type GRPCServer struct {
	service Service
	opts    options
	texts   localizer
}

var _ BenefitServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(svc Service, opts ...Option) *GRPCServer {
	if svc == nil {
		panic("service is nil")
	}

	o := newOptions(opts)
	return &GRPCServer{
		service: svc,
		opts:    o,
		texts:   localizer{translator: o.translator},
	}
}

func (s *GRPCServer) Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error) {
	if req == nil {
		req = &EvaluateRequest{}
	}

	response, err := evaluate(ctx, s.service, s.texts, *req, metadataValues(ctx, "accept-language")...)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return &response, nil
}

func (s *GRPCServer) ValidateBenefit(_ context.Context, req *ValidateBenefitRequest) (*ValidateBenefitResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "benefit is required")
	}

	verdict := s.service.ValidateBenefit(req.Benefit)
	if !verdict.IsValid && s.opts.metrics != nil {
		s.opts.metrics.RecordValidationFailure(validationSourceGRPC)
	}

	errs := verdict.Errors
	if errs == nil {
		errs = []string{}
	}
	return &ValidateBenefitResponse{IsValid: verdict.IsValid, Errors: errs}, nil
}

func (s *GRPCServer) WatchCatalog(req *WatchCatalogRequest, stream BenefitService_WatchCatalogServer) error {
	filter := ""
	var lastEventID int64
	if req != nil {
		filter = strings.ToLower(strings.TrimSpace(req.EntityType))
		lastEventID = req.LastEventID
	}
	if lastEventID < 0 {
		return status.Error(codes.InvalidArgument, "last_event_id must be non-negative")
	}
	if filter != "" && filter != repository.EntityBrand && filter != repository.EntityBenefit {
		return status.Error(codes.InvalidArgument, "entity_type must be brand or benefit")
	}

	if m := s.opts.metrics; m != nil {
		m.ActiveStreams.WithLabelValues("grpc").Inc()
		defer m.ActiveStreams.WithLabelValues("grpc").Dec()
	}

	sendEvents := func(ctx context.Context) error {
		events, err := s.service.ListEventsSince(ctx, lastEventID)
		if err != nil {
			return toGRPCError(err)
		}

		for _, event := range events {
			lastEventID = event.EventID
			watchEvent, ok := toWatchEvent(event)
			if !ok {
				continue
			}
			if filter != "" && watchEvent.EntityType != filter {
				continue
			}

			if err := stream.Send(watchEvent); err != nil {
				return err
			}
		}

		return nil
	}

	if err := sendEvents(stream.Context()); err != nil {
		return err
	}

	ticker := time.NewTicker(s.opts.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
			if err := sendEvents(stream.Context()); err != nil {
				return err
			}
		}
	}
}

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return status.Error(codes.InvalidArgument, reqErr.message)
	case errors.Is(err, service.ErrInvalidBenefit):
		return status.Error(codes.InvalidArgument, "invalid benefit")
	case errors.Is(err, service.ErrBenefitNotFound):
		return status.Error(codes.NotFound, "benefit not found")
	case errors.Is(err, service.ErrBrandNotFound):
		return status.Error(codes.NotFound, "brand not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}

// toWatchEvent keeps brand and benefit events with a known event type.
func toWatchEvent(event repository.CatalogEvent) (*CatalogEvent, bool) {
	entity := strings.ToLower(strings.TrimSpace(event.EntityType))
	if entity != repository.EntityBrand && entity != repository.EntityBenefit {
		return nil, false
	}

	var eventType string
	switch strings.ToLower(strings.TrimSpace(event.EventType)) {
	case "update", "updated":
		eventType = service.EventTypeUpdated
	case "delete", "deleted":
		eventType = service.EventTypeDeleted
	default:
		return nil, false
	}

	return &CatalogEvent{
		EventID:    event.EventID,
		EntityType: entity,
		EntityID:   event.EntityID,
		EventType:  eventType,
		Payload:    append([]byte(nil), event.Payload...),
	}, true
}

func metadataValues(ctx context.Context, key string) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	return md.Get(key)
}
