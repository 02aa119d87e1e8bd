package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fulfillment-service/models"
)

const printifyBaseURL = "https://api.printify.com/v1"

// Variant maps one print size onto the provider's catalog.
type Variant struct {
	ID         int
	PriceCents int
}

// CanvasCatalog describes the canvas blueprint used for every print.
type CanvasCatalog struct {
	BlueprintID     int
	PrintProviderID int
	Variants        map[models.PrintSize]Variant
}

// DefaultCanvasCatalog is the matte canvas blueprint with one variant per offered size.
func DefaultCanvasCatalog() CanvasCatalog {
	return CanvasCatalog{
		BlueprintID:     937,
		PrintProviderID: 105,
		Variants: map[models.PrintSize]Variant{
			models.PrintSize8x10:  {ID: 82228, PriceCents: 4900},
			models.PrintSize12x16: {ID: 82231, PriceCents: 6900},
			models.PrintSize16x20: {ID: 82233, PriceCents: 8900},
			models.PrintSize18x24: {ID: 82235, PriceCents: 10900},
			models.PrintSize24x36: {ID: 82238, PriceCents: 14900},
		},
	}
}

// PrintifyProvider implements PrintProvider using the Printify REST API.
type PrintifyProvider struct {
	apiToken   string
	shopID     string
	baseURL    string
	catalog    CanvasCatalog
	httpClient *http.Client
}

func NewPrintifyProvider(apiToken, shopID, baseURL string, catalog CanvasCatalog) *PrintifyProvider {
	if baseURL == "" {
		baseURL = printifyBaseURL
	}
	return &PrintifyProvider{
		apiToken: apiToken,
		shopID:   shopID,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		catalog:  catalog,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ---- Printify API request/response structs ----

type printifyUploadRequest struct {
	FileName string `json:"file_name"`
	URL      string `json:"url"`
}

type printifyIDResponse struct {
	ID string `json:"id"`
}

type printifyImagePlacement struct {
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
	Angle int     `json:"angle"`
}

type printifyPlaceholder struct {
	Position string                   `json:"position"`
	Images   []printifyImagePlacement `json:"images"`
}

type printifyPrintArea struct {
	VariantIDs   []int                 `json:"variant_ids"`
	Placeholders []printifyPlaceholder `json:"placeholders"`
}

type printifyProductVariant struct {
	ID        int  `json:"id"`
	Price     int  `json:"price"`
	IsEnabled bool `json:"is_enabled"`
}

type printifyProductRequest struct {
	Title           string                   `json:"title"`
	Description     string                   `json:"description"`
	BlueprintID     int                      `json:"blueprint_id"`
	PrintProviderID int                      `json:"print_provider_id"`
	Variants        []printifyProductVariant `json:"variants"`
	PrintAreas      []printifyPrintArea      `json:"print_areas"`
}

type printifyAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Country   string `json:"country"`
	Region    string `json:"region,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
}

type printifyLineItem struct {
	ProductID string `json:"product_id"`
	VariantID int    `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type printifyOrderRequest struct {
	ExternalID               string             `json:"external_id"`
	Label                    string             `json:"label"`
	LineItems                []printifyLineItem `json:"line_items"`
	ShippingMethod           int                `json:"shipping_method"`
	SendShippingNotification bool               `json:"send_shipping_notification"`
	AddressTo                printifyAddress    `json:"address_to"`
}

type printifyOrderResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Shipments []struct {
		Carrier string `json:"carrier"`
		Number  string `json:"number"`
		URL     string `json:"url"`
	} `json:"shipments"`
}

// ---- PrintProvider implementation ----

func (p *PrintifyProvider) UploadImage(ctx context.Context, fileName, imageURL string) (string, error) {
	var resp printifyIDResponse
	if err := p.doRequest(ctx, http.MethodPost, "/uploads/images.json", printifyUploadRequest{FileName: fileName, URL: imageURL}, &resp); err != nil {
		return "", fmt.Errorf("printify UploadImage: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("printify UploadImage: empty image id")
	}
	return resp.ID, nil
}

func (p *PrintifyProvider) CreateProduct(ctx context.Context, req CreateProductRequest) (string, error) {
	variant, ok := p.catalog.Variants[req.Size]
	if !ok {
		return "", fmt.Errorf("printify CreateProduct: %w: %s", ErrUnsupportedSize, req.Size)
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Canvas %s - %s", req.Size, req.ArtifactID)
	}
	body := printifyProductRequest{
		Title:           title,
		Description:     "Gallery-wrapped canvas print",
		BlueprintID:     p.catalog.BlueprintID,
		PrintProviderID: p.catalog.PrintProviderID,
		Variants: []printifyProductVariant{
			{ID: variant.ID, Price: variant.PriceCents, IsEnabled: true},
		},
		PrintAreas: []printifyPrintArea{
			{
				VariantIDs: []int{variant.ID},
				Placeholders: []printifyPlaceholder{
					{
						Position: "front",
						Images:   []printifyImagePlacement{{ID: req.ImageID, X: 0.5, Y: 0.5, Scale: 1, Angle: 0}},
					},
				},
			},
		},
	}

	var resp printifyIDResponse
	if err := p.doRequest(ctx, http.MethodPost, fmt.Sprintf("/shops/%s/products.json", p.shopID), body, &resp); err != nil {
		return "", fmt.Errorf("printify CreateProduct: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("printify CreateProduct: empty product id")
	}
	return resp.ID, nil
}

func (p *PrintifyProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	variant, ok := p.catalog.Variants[req.Size]
	if !ok {
		return "", fmt.Errorf("printify CreateOrder: %w: %s", ErrUnsupportedSize, req.Size)
	}

	body := printifyOrderRequest{
		ExternalID: req.ExternalID,
		Label:      req.ExternalID,
		LineItems: []printifyLineItem{
			{ProductID: req.ProductID, VariantID: variant.ID, Quantity: 1},
		},
		ShippingMethod:           1,
		SendShippingNotification: false,
		AddressTo:                toPrintifyAddress(req.Address),
	}

	var resp printifyIDResponse
	if err := p.doRequest(ctx, http.MethodPost, fmt.Sprintf("/shops/%s/orders.json", p.shopID), body, &resp); err != nil {
		return "", fmt.Errorf("printify CreateOrder: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("printify CreateOrder: empty order id")
	}
	return resp.ID, nil
}

func (p *PrintifyProvider) SubmitToProduction(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/shops/%s/orders/%s/send_to_production.json", p.shopID, orderID)
	if err := p.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("printify SubmitToProduction: %w", err)
	}
	return nil
}

func (p *PrintifyProvider) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var resp printifyOrderResponse
	if err := p.doRequest(ctx, http.MethodGet, fmt.Sprintf("/shops/%s/orders/%s.json", p.shopID, orderID), nil, &resp); err != nil {
		return OrderStatus{}, fmt.Errorf("printify GetOrderStatus: %w", err)
	}

	status := OrderStatus{OrderID: resp.ID, Status: resp.Status}
	for _, s := range resp.Shipments {
		status.Shipments = append(status.Shipments, Shipment{Carrier: s.Carrier, TrackingNumber: s.Number, URL: s.URL})
	}
	return status, nil
}

// ---- HTTP helper ----

func (p *PrintifyProvider) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("printify API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ---- Conversion helper ----

func toPrintifyAddress(a models.Address) printifyAddress {
	first, last := a.Name, ""
	if i := strings.LastIndex(a.Name, " "); i > 0 {
		first, last = a.Name[:i], a.Name[i+1:]
	}
	return printifyAddress{
		FirstName: first,
		LastName:  last,
		Email:     a.Email,
		Phone:     a.Phone,
		Country:   a.Country,
		Region:    a.State,
		Address1:  a.Street1,
		Address2:  a.Street2,
		City:      a.City,
		Zip:       a.PostalCode,
	}
}
