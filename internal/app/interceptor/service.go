package interceptor

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/routing"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/strategies"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/fetcher"
)

const tracerName = "github.com/Overland-East-Bay/trip-planner-offline/internal/app/interceptor"

// Strategy names recorded on results and spans.
const (
	StrategyPassthrough          = "passthrough"
	StrategyNetworkFirst         = "network-first"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
	StrategyCacheFirst           = "cache-first"
	StrategyTileCache            = "tile-cache"
)

// Outcome is the answer to one intercepted request.
type Outcome struct {
	Response domain.Response
	Category domain.Category
	Strategy string
}

type Service struct {
	classifier *routing.Classifier
	strategies *strategies.Set
	fetcher    fetcher.Fetcher
	tracer     trace.Tracer
}

type Option func(*Service)

// WithTracerProvider traces through tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

func NewService(classifier *routing.Classifier, set *strategies.Set, f fetcher.Fetcher, opts ...Option) *Service {
	s := &Service{
		classifier: classifier,
		strategies: set,
		fetcher:    f,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle classifies req and answers it with the matching strategy. Uncached traffic goes
// straight to the network.
func (s *Service) Handle(ctx context.Context, req domain.Request) (Outcome, error) {
	cat := s.classifier.Classify(req)
	strategy := strategyFor(cat)

	ctx, span := s.tracer.Start(ctx, "offline.intercept", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.full", req.URL.String()),
		attribute.String("offline.category", string(cat)),
		attribute.String("offline.strategy", strategy),
	))
	defer span.End()

	resp, err := s.run(ctx, cat, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{Category: cat, Strategy: strategy}, err
	}
	span.SetAttributes(
		attribute.String("offline.source", string(resp.Source)),
		attribute.Int("http.response.status_code", resp.Status),
	)
	return Outcome{Response: resp, Category: cat, Strategy: strategy}, nil
}

func (s *Service) run(ctx context.Context, cat domain.Category, req domain.Request) (domain.Response, error) {
	switch cat {
	case domain.CategoryPassthrough:
		resp, err := s.fetcher.Fetch(ctx, req)
		if err != nil {
			return domain.Response{}, err
		}
		resp.Source = domain.SourceNetwork
		return resp, nil
	case domain.CategoryMapTile:
		return s.strategies.TileCache(ctx, req)
	case domain.CategoryUserDataAPI:
		return s.strategies.StaleWhileRevalidate(ctx, req)
	case domain.CategoryImage:
		return s.strategies.CacheFirst(ctx, req, domain.RoleImages)
	case domain.CategoryStaticAsset:
		return s.strategies.CacheFirst(ctx, req, domain.RoleStatic)
	default:
		return s.strategies.NetworkFirst(ctx, req)
	}
}

func strategyFor(cat domain.Category) string {
	switch cat {
	case domain.CategoryPassthrough:
		return StrategyPassthrough
	case domain.CategoryMapTile:
		return StrategyTileCache
	case domain.CategoryUserDataAPI:
		return StrategyStaleWhileRevalidate
	case domain.CategoryImage, domain.CategoryStaticAsset:
		return StrategyCacheFirst
	default:
		return StrategyNetworkFirst
	}
}

// IsUnavailable reports whether err means the request could be answered neither from the
// network nor from a store.
func IsUnavailable(err error) bool {
	return errors.Is(err, strategies.ErrPolicyExhausted)
}
