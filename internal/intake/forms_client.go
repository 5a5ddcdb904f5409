package intake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FormsToken 表单服务 API 认证
type FormsToken struct {
	AppID     string `json:"appId"`
	SecureKey string `json:"secureKey"`
}

// FormsRequest 表单服务 API 请求
type FormsRequest struct {
	Token *FormsToken    `json:"token"`
	Data  map[string]any `json:"data"`
}

// FormsResponse 表单服务 API 响应
type FormsResponse struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// Submission 一条表单提交（外部表单渠道的原始考勤申报）
type Submission struct {
	SubmittedAt time.Time `json:"submitted_at"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	EventName   string    `json:"event_name"`
	EventDate   string    `json:"event_date"` // 原样保留，解析交给来源适配器
}

// FormsClient 外部表单服务 API 客户端（定时拉取表单提交）
type FormsClient struct {
	httpClient *resty.Client
	token      *FormsToken
	logger     *zap.Logger
}

// NewFormsClient 创建表单服务客户端
func NewFormsClient(baseURL, appID, secretKey string, logger *zap.Logger) *FormsClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &FormsClient{
		httpClient: client,
		token: &FormsToken{
			AppID:     appID,
			SecureKey: secretKey,
		},
		logger: logger,
	}
}

// FetchSubmissions 拉取某表单自 since 之后的提交
func (c *FormsClient) FetchSubmissions(formID string, since time.Time) ([]Submission, error) {
	request := FormsRequest{
		Token: c.token,
		Data: map[string]any{
			"formId": formID,
			"since":  since.Unix(),
		},
	}

	var response FormsResponse
	resp, err := c.httpClient.R().
		SetBody(request).
		SetResult(&response).
		Post("/api/forms/submissions")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form submissions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("forms api returned http %d", resp.StatusCode())
	}
	if response.Status != 0 {
		return nil, fmt.Errorf("forms api error %d: %s", response.Status, response.Msg)
	}

	var submissions []Submission
	if err := json.Unmarshal(response.Data, &submissions); err != nil {
		return nil, fmt.Errorf("failed to decode form submissions: %w", err)
	}

	c.logger.Debug("Fetched form submissions",
		zap.String("form_id", formID),
		zap.Int("count", len(submissions)),
	)
	return submissions, nil
}
