package orderrpc

type PlaceOrderRequest struct {
	RequestId string `json:"request_id,omitempty"`
	ItemId    int64  `json:"item_id"`
	Quantity  int32  `json:"quantity"`
}

type PlaceOrderResponse struct {
	Status    string `json:"status"`
	OrderId   int64  `json:"order_id"`
	ItemId    int64  `json:"item_id"`
	Quantity  int32  `json:"quantity"`
	CreatedAt string `json:"created_at"`
}

type ListItemsRequest struct{}

type Item struct {
	Id    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
	Stock int32  `json:"stock"`
}

type ListItemsResponse struct {
	Items []*Item `json:"items"`
}

type ListMyOrdersRequest struct{}

type Order struct {
	OrderId   int64  `json:"order_id"`
	ItemId    int64  `json:"item_id"`
	ItemName  string `json:"item_name"`
	Price     string `json:"price"`
	Quantity  int32  `json:"quantity"`
	CreatedAt string `json:"created_at"`
}

type ListMyOrdersResponse struct {
	Orders []*Order `json:"orders"`
}
