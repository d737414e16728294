package grpcsvc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Схема proto/storefront/v1/ledger.proto. Дескриптор собирается при старте
// пакета, сообщения на проводе — dynamicpb поверх этого дескриптора.
const (
	ledgerProtoPath = "storefront/v1/ledger.proto"
	ledgerPackage   = "storefront.v1"
	ledgerGoPackage = "github.com/vladislavdragonenkov/storefront/internal/service/grpc;grpcsvc"
)

var ledgerFile = mustBuildLedgerFile()

var (
	customerDesc          = ledgerFile.Messages().ByName("Customer")
	orderItemDesc         = ledgerFile.Messages().ByName("OrderItem")
	virtualAccountDesc    = ledgerFile.Messages().ByName("VirtualAccount")
	orderDesc             = ledgerFile.Messages().ByName("Order")
	timelineEventDesc     = ledgerFile.Messages().ByName("TimelineEvent")
	getOrderRequestDesc   = ledgerFile.Messages().ByName("GetOrderRequest")
	getOrderResponseDesc  = ledgerFile.Messages().ByName("GetOrderResponse")
	listOrdersRequestDesc = ledgerFile.Messages().ByName("ListOrdersRequest")
	orderSnapshotDesc     = ledgerFile.Messages().ByName("OrderSnapshot")
)

// fieldSpec — поле сообщения; номера полей идут по порядку объявления.
type fieldSpec struct {
	name     string
	kind     descriptorpb.FieldDescriptorProto_Type
	message  string
	repeated bool
}

func stringField(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_STRING}
}

func int64Field(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_INT64}
}

func int32Field(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_INT32}
}

func boolField(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_BOOL}
}

func messageField(name, message string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, message: message}
}

func repeated(f fieldSpec) fieldSpec {
	f.repeated = true
	return f
}

func qualified(name string) string {
	return "." + ledgerPackage + "." + name
}

func messageProto(name string, fields ...fieldSpec) *descriptorpb.DescriptorProto {
	msg := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	for i, f := range fields {
		label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		if f.repeated {
			label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		}
		field := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(f.name),
			Number: proto.Int32(int32(i + 1)),
			Label:  label.Enum(),
			Type:   f.kind.Enum(),
		}
		if f.message != "" {
			field.TypeName = proto.String(qualified(f.message))
		}
		msg.Field = append(msg.Field, field)
	}
	return msg
}

func rpc(name, input, output string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
	method := &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String(qualified(input)),
		OutputType: proto.String(qualified(output)),
	}
	if serverStreaming {
		method.ServerStreaming = proto.Bool(true)
	}
	return method
}

func ledgerFileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(ledgerProtoPath),
		Package: proto.String(ledgerPackage),
		Syntax:  proto.String("proto3"),
		Options: &descriptorpb.FileOptions{GoPackage: proto.String(ledgerGoPackage)},
		MessageType: []*descriptorpb.DescriptorProto{
			messageProto("Customer",
				stringField("name"),
				stringField("email"),
				stringField("phone"),
				stringField("address"),
			),
			messageProto("OrderItem",
				stringField("product_id"),
				stringField("name"),
				stringField("merchant"),
				int32Field("quantity"),
				int64Field("unit_price"),
			),
			messageProto("VirtualAccount",
				stringField("account_number"),
				stringField("bank_name"),
				stringField("account_name"),
				stringField("customer_code"),
				stringField("currency"),
				boolField("active"),
				int64Field("created_unix_nano"),
			),
			messageProto("Order",
				stringField("id"),
				messageField("customer", "Customer"),
				repeated(messageField("items", "OrderItem")),
				int64Field("total"),
				stringField("currency"),
				stringField("payment_method"),
				stringField("payment_status"),
				stringField("order_status"),
				stringField("payment_reference"),
				messageField("virtual_account", "VirtualAccount"),
				stringField("authorization_url"),
				stringField("access_code"),
				int64Field("platform_fee"),
				int64Field("merchant_amount"),
				repeated(stringField("merchants")),
				stringField("notes"),
				int64Field("version"),
				int64Field("created_unix_nano"),
				int64Field("updated_unix_nano"),
			),
			messageProto("TimelineEvent",
				stringField("order_id"),
				stringField("type"),
				stringField("reason"),
				int64Field("occurred_unix_nano"),
			),
			messageProto("GetOrderRequest", stringField("order_id")),
			messageProto("GetOrderResponse",
				messageField("order", "Order"),
				repeated(messageField("timeline", "TimelineEvent")),
			),
			messageProto("ListOrdersRequest",
				stringField("email"),
				stringField("status"),
				stringField("reference"),
				int32Field("limit"),
			),
			messageProto("OrderSnapshot",
				repeated(messageField("orders", "Order")),
				int32Field("count"),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("LedgerService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				rpc("GetOrder", "GetOrderRequest", "GetOrderResponse", false),
				rpc("ListOrders", "ListOrdersRequest", "OrderSnapshot", false),
				rpc("WatchOrders", "ListOrdersRequest", "OrderSnapshot", true),
			},
		}},
	}
}

func mustBuildLedgerFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(ledgerFileProto(), new(protoregistry.Files))
	if err != nil {
		panic(fmt.Sprintf("build %s descriptor: %v", ledgerProtoPath, err))
	}
	return fd
}
