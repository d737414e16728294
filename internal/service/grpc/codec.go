package grpcsvc

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func fieldOf(md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(name)
	if fd == nil {
		panic(fmt.Sprintf("%s has no field %q", md.FullName(), name))
	}
	return fd
}

func set(m *dynamicpb.Message, name protoreflect.Name, v protoreflect.Value) {
	m.Set(fieldOf(m.Descriptor(), name), v)
}

func get(m protoreflect.Message, name protoreflect.Name) protoreflect.Value {
	return m.Get(fieldOf(m.Descriptor(), name))
}

func appendTo(m *dynamicpb.Message, name protoreflect.Name, v protoreflect.Value) {
	m.Mutable(fieldOf(m.Descriptor(), name)).List().Append(v)
}

func str(v string) protoreflect.Value { return protoreflect.ValueOfString(v) }

func i64(v int64) protoreflect.Value { return protoreflect.ValueOfInt64(v) }

// unixNano кодирует нулевое время как 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encodeOrder(o domain.Order) *dynamicpb.Message {
	m := dynamicpb.NewMessage(orderDesc)
	set(m, "id", str(o.ID))

	customer := dynamicpb.NewMessage(customerDesc)
	set(customer, "name", str(o.Customer.Name))
	set(customer, "email", str(o.Customer.Email))
	set(customer, "phone", str(o.Customer.Phone))
	set(customer, "address", str(o.Customer.Address))
	set(m, "customer", protoreflect.ValueOfMessage(customer))

	for _, item := range o.Items {
		im := dynamicpb.NewMessage(orderItemDesc)
		set(im, "product_id", str(item.ProductID))
		set(im, "name", str(item.Name))
		set(im, "merchant", str(item.Merchant))
		set(im, "quantity", protoreflect.ValueOfInt32(item.Quantity))
		set(im, "unit_price", i64(item.UnitPrice))
		appendTo(m, "items", protoreflect.ValueOfMessage(im))
	}

	set(m, "total", i64(o.Total))
	set(m, "currency", str(o.Currency))
	set(m, "payment_method", str(string(o.PaymentMethod)))
	set(m, "payment_status", str(string(o.PaymentStatus)))
	set(m, "order_status", str(string(o.OrderStatus)))
	set(m, "payment_reference", str(o.PaymentReference))
	if va := o.VirtualAccount; va != nil {
		vm := dynamicpb.NewMessage(virtualAccountDesc)
		set(vm, "account_number", str(va.AccountNumber))
		set(vm, "bank_name", str(va.BankName))
		set(vm, "account_name", str(va.AccountName))
		set(vm, "customer_code", str(va.CustomerCode))
		set(vm, "currency", str(va.Currency))
		set(vm, "active", protoreflect.ValueOfBool(va.Active))
		set(vm, "created_unix_nano", i64(unixNano(va.CreatedAt)))
		set(m, "virtual_account", protoreflect.ValueOfMessage(vm))
	}
	set(m, "authorization_url", str(o.AuthorizationURL))
	set(m, "access_code", str(o.AccessCode))
	set(m, "platform_fee", i64(o.PlatformFee))
	set(m, "merchant_amount", i64(o.MerchantAmount))
	for _, merchant := range o.Merchants {
		appendTo(m, "merchants", str(merchant))
	}
	set(m, "notes", str(o.Notes))
	set(m, "version", i64(o.Version))
	set(m, "created_unix_nano", i64(unixNano(o.CreatedAt)))
	set(m, "updated_unix_nano", i64(unixNano(o.UpdatedAt)))
	return m
}

func decodeOrder(m protoreflect.Message) domain.Order {
	customer := get(m, "customer").Message()
	order := domain.Order{
		ID: get(m, "id").String(),
		Customer: domain.Customer{
			Name:    get(customer, "name").String(),
			Email:   get(customer, "email").String(),
			Phone:   get(customer, "phone").String(),
			Address: get(customer, "address").String(),
		},
		Total:            get(m, "total").Int(),
		Currency:         get(m, "currency").String(),
		PaymentMethod:    domain.PaymentMethod(get(m, "payment_method").String()),
		PaymentStatus:    domain.PaymentStatus(get(m, "payment_status").String()),
		OrderStatus:      domain.OrderStatus(get(m, "order_status").String()),
		PaymentReference: get(m, "payment_reference").String(),
		AuthorizationURL: get(m, "authorization_url").String(),
		AccessCode:       get(m, "access_code").String(),
		PlatformFee:      get(m, "platform_fee").Int(),
		MerchantAmount:   get(m, "merchant_amount").Int(),
		Notes:            get(m, "notes").String(),
		Version:          get(m, "version").Int(),
		CreatedAt:        fromUnixNano(get(m, "created_unix_nano").Int()),
		UpdatedAt:        fromUnixNano(get(m, "updated_unix_nano").Int()),
	}

	items := get(m, "items").List()
	for i := 0; i < items.Len(); i++ {
		im := items.Get(i).Message()
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: get(im, "product_id").String(),
			Name:      get(im, "name").String(),
			Merchant:  get(im, "merchant").String(),
			Quantity:  int32(get(im, "quantity").Int()),
			UnitPrice: get(im, "unit_price").Int(),
		})
	}
	merchants := get(m, "merchants").List()
	for i := 0; i < merchants.Len(); i++ {
		order.Merchants = append(order.Merchants, merchants.Get(i).String())
	}
	if vaField := fieldOf(m.Descriptor(), "virtual_account"); m.Has(vaField) {
		vm := m.Get(vaField).Message()
		order.VirtualAccount = &domain.VirtualAccount{
			AccountNumber: get(vm, "account_number").String(),
			BankName:      get(vm, "bank_name").String(),
			AccountName:   get(vm, "account_name").String(),
			CustomerCode:  get(vm, "customer_code").String(),
			Currency:      get(vm, "currency").String(),
			Active:        get(vm, "active").Bool(),
			CreatedAt:     fromUnixNano(get(vm, "created_unix_nano").Int()),
		}
	}
	return order
}

// OrderDetails — заказ вместе с историей изменений.
type OrderDetails struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

func encodeDetails(d OrderDetails) *dynamicpb.Message {
	m := dynamicpb.NewMessage(getOrderResponseDesc)
	set(m, "order", protoreflect.ValueOfMessage(encodeOrder(d.Order)))
	for _, evt := range d.Timeline {
		em := dynamicpb.NewMessage(timelineEventDesc)
		set(em, "order_id", str(evt.OrderID))
		set(em, "type", str(evt.Type))
		set(em, "reason", str(evt.Reason))
		set(em, "occurred_unix_nano", i64(unixNano(evt.Occurred)))
		appendTo(m, "timeline", protoreflect.ValueOfMessage(em))
	}
	return m
}

func decodeDetails(m protoreflect.Message) OrderDetails {
	details := OrderDetails{Order: decodeOrder(get(m, "order").Message())}
	timeline := get(m, "timeline").List()
	for i := 0; i < timeline.Len(); i++ {
		em := timeline.Get(i).Message()
		details.Timeline = append(details.Timeline, domain.TimelineEvent{
			OrderID:  get(em, "order_id").String(),
			Type:     get(em, "type").String(),
			Reason:   get(em, "reason").String(),
			Occurred: fromUnixNano(get(em, "occurred_unix_nano").Int()),
		})
	}
	return details
}

func encodeSnapshot(orders []domain.Order) *dynamicpb.Message {
	m := dynamicpb.NewMessage(orderSnapshotDesc)
	for _, order := range orders {
		appendTo(m, "orders", protoreflect.ValueOfMessage(encodeOrder(order)))
	}
	set(m, "count", protoreflect.ValueOfInt32(int32(len(orders))))
	return m
}

func decodeSnapshot(m protoreflect.Message) []domain.Order {
	list := get(m, "orders").List()
	orders := make([]domain.Order, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		orders = append(orders, decodeOrder(list.Get(i).Message()))
	}
	return orders
}

func encodeFilter(f domain.OrderFilter) *dynamicpb.Message {
	m := dynamicpb.NewMessage(listOrdersRequestDesc)
	set(m, "email", str(f.Email))
	set(m, "status", str(string(f.Status)))
	set(m, "reference", str(f.Reference))
	limit := f.Limit
	if limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	set(m, "limit", protoreflect.ValueOfInt32(int32(limit)))
	return m
}

// decodeFilter проверяет статус и limit; ошибки — ошибки клиента.
func decodeFilter(m protoreflect.Message) (domain.OrderFilter, error) {
	filter := domain.OrderFilter{
		Email:     strings.TrimSpace(get(m, "email").String()),
		Reference: strings.TrimSpace(get(m, "reference").String()),
	}
	if raw := get(m, "status").String(); raw != "" {
		filter.Status = domain.OrderStatus(raw)
		if !filter.Status.Valid() {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
	}
	limit := get(m, "limit").Int()
	if limit < 0 {
		return filter, errors.New("limit must be >= 0")
	}
	filter.Limit = int(limit)
	return filter, nil
}
