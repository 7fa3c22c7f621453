package tesla

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/langchou/tesinvoice/internal/credential"
	"github.com/langchou/tesinvoice/internal/models"
)

// SubscriptionOptionCode 高级连接订阅的选项码
const SubscriptionOptionCode = "$CPF1"

// 移动端接口固定的语言/地区参数
const deviceQuery = "deviceLanguage=en&deviceCountry=AT&httpLocale=en_US"

// Client Tesla API 客户端
type Client struct {
	requester     *Requester
	logger        *zap.Logger
	authHost      string
	apiHost       string
	ownershipHost string
	clientID      string
}

// NewClient 创建新的 Tesla API 客户端
func NewClient(requester *Requester, authHost, apiHost, ownershipHost, clientID string, logger *zap.Logger) *Client {
	return &Client{
		requester:     requester,
		logger:        logger,
		authHost:      strings.TrimRight(authHost, "/"),
		apiHost:       strings.TrimRight(apiHost, "/"),
		ownershipHost: strings.TrimRight(ownershipHost, "/"),
		clientID:      clientID,
	}
}

// ExchangeRefreshToken 使用 refresh token 换取新的 access token
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*credential.TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", c.clientID)
	data.Set("refresh_token", refreshToken)
	data.Set("scope", "openid email offline_access")

	resp, err := c.requester.Execute(ctx, Request{
		Method:      http.MethodPost,
		URL:         c.authHost + "/oauth2/v3/token",
		Body:        []byte(data.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		SkipAuth:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh token request: %w", err)
	}

	var token tokenResponse
	if err := json.Unmarshal(resp.Body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	return &credential.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// ListVehicles 获取产品列表并过滤出车辆，按列表顺序、以 VIN 去重（属性以最后一次出现为准）
func (c *Client) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	resp, err := c.get(ctx, c.apiHost+"/api/1/products?orders=true")
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}

	var products []Product
	if err := resp.Field("response", &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	index := make(map[string]int)
	var vehicles []models.Vehicle
	for _, p := range products {
		if p.VIN == nil || *p.VIN == "" {
			continue
		}
		v := models.Vehicle{VIN: *p.VIN}
		if p.DisplayName != nil {
			v.DisplayName = *p.DisplayName
		}

		if i, ok := index[v.VIN]; ok {
			c.logger.Warn("Duplicate vehicle in product listing", zap.String("vin", v.VIN))
			vehicles[i] = v
			continue
		}
		index[v.VIN] = len(vehicles)
		vehicles = append(vehicles, v)
	}

	return vehicles, nil
}

// ChargingHistory 获取车辆的充电历史
func (c *Client) ChargingHistory(ctx context.Context, vin string) ([]ChargingSession, error) {
	target := fmt.Sprintf("%s/mobile-app/charging/history?%s&vin=%s&operationName=getChargingHistoryV2",
		c.ownershipHost, deviceQuery, url.QueryEscape(vin))

	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("charging history: %w", err)
	}

	var sessions []ChargingSession
	if err := resp.Field("data", &sessions); err != nil {
		return nil, fmt.Errorf("decode charging history: %w", err)
	}
	return sessions, nil
}

// ChargingInvoice 下载充电发票 PDF
func (c *Client) ChargingInvoice(ctx context.Context, vin, contentID string) ([]byte, error) {
	target := fmt.Sprintf("%s/mobile-app/charging/invoice/%s?%s&vin=%s",
		c.ownershipHost, url.PathEscape(contentID), deviceQuery, url.QueryEscape(vin))
	return c.document(ctx, target)
}

// SubscriptionInvoices 获取订阅发票列表
func (c *Client) SubscriptionInvoices(ctx context.Context, vin string) ([]SubscriptionInvoice, error) {
	target := fmt.Sprintf("%s/mobile-app/subscriptions/invoices?%s&vin=%s&optionCode=%s",
		c.ownershipHost, deviceQuery, url.QueryEscape(vin), SubscriptionOptionCode)

	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("subscription invoices: %w", err)
	}

	var invoices []SubscriptionInvoice
	if err := resp.Field("data", &invoices); err != nil {
		return nil, fmt.Errorf("decode subscription invoices: %w", err)
	}
	return invoices, nil
}

// SubscriptionInvoice 下载订阅发票 PDF
func (c *Client) SubscriptionInvoice(ctx context.Context, vin, invoiceID string) ([]byte, error) {
	target := fmt.Sprintf("%s/mobile-app/documents/invoices/%s?%s&vin=%s",
		c.ownershipHost, url.PathEscape(invoiceID), deviceQuery, url.QueryEscape(vin))
	return c.document(ctx, target)
}

func (c *Client) get(ctx context.Context, target string) (*Response, error) {
	return c.requester.Execute(ctx, Request{Method: http.MethodGet, URL: target})
}

// document 下载二进制文档；JSON 响应视为错误
func (c *Client) document(ctx context.Context, target string) ([]byte, error) {
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}

	switch resp.Kind() {
	case KindPDF:
		return resp.Body, nil
	case KindJSON:
		return nil, fmt.Errorf("download document: expected PDF, got JSON: %s", string(resp.Body))
	default:
		c.logger.Debug("Document served with unexpected content type",
			zap.String("content_type", resp.ContentType))
		return resp.Body, nil
	}
}
