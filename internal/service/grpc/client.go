package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Client — клиент LedgerService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// GetOrder запрашивает заказ с таймлайном.
func (c *Client) GetOrder(ctx context.Context, id string, opts ...grpc.CallOption) (domain.Order, []domain.TimelineEvent, error) {
	in := dynamicpb.NewMessage(getOrderRequestDesc)
	set(in, "order_id", str(id))
	out := dynamicpb.NewMessage(getOrderResponseDesc)
	if err := c.conn.Invoke(ctx, methodGetOrder, in, out, opts...); err != nil {
		return domain.Order{}, nil, err
	}
	details := decodeDetails(out)
	return details.Order, details.Timeline, nil
}

// ListOrders запрашивает заказы по фильтру.
func (c *Client) ListOrders(ctx context.Context, filter domain.OrderFilter, opts ...grpc.CallOption) ([]domain.Order, error) {
	out := dynamicpb.NewMessage(orderSnapshotDesc)
	if err := c.conn.Invoke(ctx, methodListOrders, encodeFilter(filter), out, opts...); err != nil {
		return nil, err
	}
	return decodeSnapshot(out), nil
}

// OrderStream — серверный поток снимков.
type OrderStream struct {
	stream grpc.ClientStream
}

// Recv ждёт следующий снимок.
func (s *OrderStream) Recv() ([]domain.Order, error) {
	msg := dynamicpb.NewMessage(orderSnapshotDesc)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return decodeSnapshot(msg), nil
}

// WatchOrders открывает поток снимков. Поток закрывается отменой ctx.
func (c *Client) WatchOrders(ctx context.Context, filter domain.OrderFilter, opts ...grpc.CallOption) (*OrderStream, error) {
	stream, err := c.conn.NewStream(ctx, &LedgerServiceDesc.Streams[0], methodWatchOrders, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(encodeFilter(filter)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &OrderStream{stream: stream}, nil
}
