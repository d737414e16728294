package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ServiceName — полное имя gRPC-сервиса реестра заказов.
const ServiceName = ledgerPackage + ".LedgerService"

const (
	methodGetOrder    = "/" + ServiceName + "/GetOrder"
	methodListOrders  = "/" + ServiceName + "/ListOrders"
	methodWatchOrders = "/" + ServiceName + "/WatchOrders"
)

// LedgerServer — контракт сервиса в доменных типах. Перевод в сообщения
// storefront.v1 делают обработчики ниже.
type LedgerServer interface {
	GetOrder(ctx context.Context, orderID string) (OrderDetails, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	WatchOrders(filter domain.OrderFilter, stream SnapshotStream) error
}

// SnapshotStream — серверная сторона потока WatchOrders.
type SnapshotStream interface {
	Context() context.Context
	Send(orders []domain.Order) error
}

// LedgerServiceDesc описывает сервис для grpc.Server.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrder", Handler: getOrderHandler},
		{MethodName: "ListOrders", Handler: listOrdersHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchOrders", Handler: watchOrdersHandler, ServerStreams: true},
	},
	Metadata: ledgerProtoPath,
}

// RegisterLedgerServer регистрирует реализацию на сервере.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func getOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(getOrderRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		details, err := srv.(LedgerServer).GetOrder(ctx, get(req.(*dynamicpb.Message), "order_id").String())
		if err != nil {
			return nil, err
		}
		return encodeDetails(details), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetOrder}
	return interceptor(ctx, in, info, handler)
}

func listOrdersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(listOrdersRequestDesc)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		filter, err := decodeFilter(req.(*dynamicpb.Message))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		orders, err := srv.(LedgerServer).ListOrders(ctx, filter)
		if err != nil {
			return nil, err
		}
		return encodeSnapshot(orders), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListOrders}
	return interceptor(ctx, in, info, handler)
}

func watchOrdersHandler(srv any, stream grpc.ServerStream) error {
	in := dynamicpb.NewMessage(listOrdersRequestDesc)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	filter, err := decodeFilter(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return srv.(LedgerServer).WatchOrders(filter, &snapshotStream{ServerStream: stream})
}

type snapshotStream struct {
	grpc.ServerStream
}

func (s *snapshotStream) Send(orders []domain.Order) error {
	return s.ServerStream.SendMsg(encodeSnapshot(orders))
}
