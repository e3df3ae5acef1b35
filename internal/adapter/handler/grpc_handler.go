package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/adapter/handler/orderrpc"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

type GRPCHandler struct {
	orders  *service.OrderService
	catalog *service.CatalogService
	auth    *service.AuthService
	log     *zap.Logger
}

func NewGRPCHandler(orders *service.OrderService, catalog *service.CatalogService, auth *service.AuthService, log *zap.Logger) *GRPCHandler {
	return &GRPCHandler{orders: orders, catalog: catalog, auth: auth, log: log}
}

// ServerOptions returns the interceptor chain the handler expects: logging
// outermost, then authentication of OrderService calls.
func (h *GRPCHandler) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(h.loggingInterceptor, h.authInterceptor),
	}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *orderrpc.PlaceOrderRequest) (*orderrpc.PlaceOrderResponse, error) {
	outcome, err := h.orders.PlaceOrderOnce(ctx, sessionFrom(ctx), req.RequestId, req.ItemId, int(req.Quantity))
	if err != nil {
		return nil, grpcError(err)
	}

	switch outcome.Status {
	case domain.OutcomeCommitted:
		return &orderrpc.PlaceOrderResponse{
			Status:    string(outcome.Status),
			OrderId:   outcome.Order.ID,
			ItemId:    outcome.Order.ItemID,
			Quantity:  int32(outcome.Order.Quantity),
			CreatedAt: outcome.Order.CreatedAt.UTC().Format(time.RFC3339Nano),
		}, nil
	case domain.OutcomeItemNotFound:
		return nil, status.Errorf(codes.NotFound, "item %d not found", req.ItemId)
	case domain.OutcomeInsufficientStock:
		return nil, status.Errorf(codes.FailedPrecondition, "insufficient stock: %d available", outcome.Available)
	default:
		return nil, status.Error(codes.Unavailable, "transaction failed")
	}
}

func (h *GRPCHandler) ListItems(ctx context.Context, _ *orderrpc.ListItemsRequest) (*orderrpc.ListItemsResponse, error) {
	items, err := h.catalog.ListItems(ctx, sessionFrom(ctx))
	if err != nil {
		return nil, grpcError(err)
	}

	resp := &orderrpc.ListItemsResponse{Items: make([]*orderrpc.Item, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, &orderrpc.Item{
			Id:    item.ID,
			Name:  item.Name,
			Price: item.Price.StringFixed(2),
			Stock: int32(item.Stock),
		})
	}
	return resp, nil
}

func (h *GRPCHandler) ListMyOrders(ctx context.Context, _ *orderrpc.ListMyOrdersRequest) (*orderrpc.ListMyOrdersResponse, error) {
	views, err := h.catalog.ListMyOrders(ctx, sessionFrom(ctx))
	if err != nil {
		return nil, grpcError(err)
	}

	resp := &orderrpc.ListMyOrdersResponse{Orders: make([]*orderrpc.Order, 0, len(views))}
	for _, v := range views {
		resp.Orders = append(resp.Orders, &orderrpc.Order{
			OrderId:   v.OrderID,
			ItemId:    v.ItemID,
			ItemName:  v.ItemName,
			Price:     v.Price.StringFixed(2),
			Quantity:  int32(v.Quantity),
			CreatedAt: v.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return resp, nil
}

func (h *GRPCHandler) authInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !strings.HasPrefix(info.FullMethod, "/"+orderrpc.ServiceName+"/") {
		return handler(ctx, req)
	}

	username, password, err := basicFromMetadata(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	sess, err := h.auth.Login(ctx, username, password)
	if err != nil {
		return nil, grpcError(err)
	}
	return handler(context.WithValue(ctx, sessionKey{}, sess), req)
}

func (h *GRPCHandler) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch status.Code(err) {
	case codes.OK:
		h.log.Debug("grpc call", fields...)
	case codes.Internal, codes.Unavailable, codes.Unknown:
		h.log.Error("grpc call failed", append(fields, zap.Error(err))...)
	default:
		h.log.Info("grpc call rejected", append(fields, zap.Error(err))...)
	}
	return resp, err
}

func basicFromMetadata(ctx context.Context) (string, string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", "", errors.New("missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", "", errors.New("missing authorization")
	}

	const prefix = "Basic "
	if !strings.HasPrefix(values[0], prefix) {
		return "", "", errors.New("unsupported authorization scheme")
	}
	raw, err := base64.StdEncoding.DecodeString(values[0][len(prefix):])
	if err != nil {
		return "", "", fmt.Errorf("malformed authorization: %w", err)
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("malformed authorization")
	}
	return username, password, nil
}

// grpcError maps service errors onto status codes through the same
// classification the HTTP API uses.
func grpcError(err error) error {
	code := codes.Internal
	switch httpCode, _ := httpStatusFor(err); httpCode {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusUnauthorized:
		code = codes.Unauthenticated
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.FailedPrecondition
		if errors.Is(err, service.ErrDuplicateRequest) {
			code = codes.AlreadyExists
		}
	case http.StatusServiceUnavailable:
		code = codes.Unavailable
	}
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}
