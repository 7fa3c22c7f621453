package tesla

// Product /api/1/products 返回的产品，只有车辆带 vin
type Product struct {
	VIN         *string `json:"vin,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

// ChargingSession 充电历史中的一次充电
type ChargingSession struct {
	UnlatchDateTime string               `json:"unlatchDateTime"`
	CountryCode     string               `json:"countryCode"`
	VIN             string               `json:"vin"`
	Invoices        []ChargingInvoiceRef `json:"invoices"` // 免费充电时为 null
}

// ChargingInvoiceRef 充电发票引用
type ChargingInvoiceRef struct {
	ContentID string `json:"contentId"`
	FileName  string `json:"fileName"`
}

// SubscriptionInvoice 订阅（高级连接）发票
type SubscriptionInvoice struct {
	InvoiceDate     string `json:"InvoiceDate"`
	InvoiceID       string `json:"InvoiceId"`
	InvoiceFileName string `json:"InvoiceFileName"`
}

// tokenResponse /oauth2/v3/token 返回
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}
