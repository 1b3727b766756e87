package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "oms.v1.OrderLifecycleService"

// Имена методов сервиса.
const (
	MethodCreateOrder       = "CreateOrder"
	MethodPreviewPrice      = "PreviewPrice"
	MethodGetOrder          = "GetOrder"
	MethodListOrders        = "ListOrders"
	MethodUpdateOrderStatus = "UpdateOrderStatus"
	MethodCreatePayment     = "CreatePayment"
	MethodProcessPayment    = "ProcessPayment"
	MethodRefundOrder       = "RefundOrder"
)

// OrderLifecycleServer — серверная сторона сервиса. Запросы и ответы передаются
// как google.protobuf.Struct с JSON-полями из пакета dto.
type OrderLifecycleServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PreviewPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateOrderStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreatePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefundOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OrderLifecycleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	fullMethod := FullMethod(method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(OrderLifecycleServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc описывает сервис для grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderLifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodCreateOrder, Handler: unaryHandler(MethodCreateOrder, OrderLifecycleServer.CreateOrder)},
		{MethodName: MethodPreviewPrice, Handler: unaryHandler(MethodPreviewPrice, OrderLifecycleServer.PreviewPrice)},
		{MethodName: MethodGetOrder, Handler: unaryHandler(MethodGetOrder, OrderLifecycleServer.GetOrder)},
		{MethodName: MethodListOrders, Handler: unaryHandler(MethodListOrders, OrderLifecycleServer.ListOrders)},
		{MethodName: MethodUpdateOrderStatus, Handler: unaryHandler(MethodUpdateOrderStatus, OrderLifecycleServer.UpdateOrderStatus)},
		{MethodName: MethodCreatePayment, Handler: unaryHandler(MethodCreatePayment, OrderLifecycleServer.CreatePayment)},
		{MethodName: MethodProcessPayment, Handler: unaryHandler(MethodProcessPayment, OrderLifecycleServer.ProcessPayment)},
		{MethodName: MethodRefundOrder, Handler: unaryHandler(MethodRefundOrder, OrderLifecycleServer.RefundOrder)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oms/v1/order_lifecycle.proto",
}

// RegisterOrderLifecycleServer регистрирует реализацию на сервере.
func RegisterOrderLifecycleServer(s grpc.ServiceRegistrar, srv OrderLifecycleServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod возвращает полное имя метода вида /oms.v1.OrderLifecycleService/CreateOrder.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client — клиент сервиса поверх любого grpc.ClientConnInterface.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient создаёт клиента.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call вызывает метод сервиса.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
