package providers

import (
	"context"
	"errors"

	"fulfillment-service/models"
)

var ErrUnsupportedSize = errors.New("unsupported print size")

type CreateProductRequest struct {
	ArtifactID string
	ImageID    string
	Size       models.PrintSize
	Title      string
}

type CreateOrderRequest struct {
	ExternalID string
	ProductID  string
	Size       models.PrintSize
	Address    models.Address
}

type Shipment struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	URL            string `json:"url"`
}

type OrderStatus struct {
	OrderID   string     `json:"order_id"`
	Status    string     `json:"status"`
	Shipments []Shipment `json:"shipments,omitempty"`
}

// PrintProvider is the external print-on-demand service. Every call is a remote side effect;
// callers persist each returned id before making the next call.
type PrintProvider interface {
	// UploadImage registers the artifact image (fetched by the provider from imageURL).
	UploadImage(ctx context.Context, fileName, imageURL string) (string, error)

	// CreateProduct creates a sellable product for one size using an uploaded image.
	CreateProduct(ctx context.Context, req CreateProductRequest) (string, error)

	// CreateOrder places an order for the product, shipped to the snapshot address.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)

	// SubmitToProduction releases a created order for printing.
	SubmitToProduction(ctx context.Context, orderID string) error

	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
}
