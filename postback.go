package outclick

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/outclick-labs/outclick/config"
	"github.com/outclick-labs/outclick/database"
	"github.com/outclick-labs/outclick/internal/request"
)

// PostbackSender announces a conversion to the publisher-side tracking
// endpoint. Implementations are invoked fire-and-forget after every
// lifecycle transition; failures are logged, never propagated.
type PostbackSender interface {
	SendPostback(ctx context.Context, conversionID string) error
}

// HTTPPostbackSender posts the conversion snapshot to the configured
// postback URL. An empty URL disables it.
type HTTPPostbackSender struct {
	datasource database.IDataSource
	client     *request.Client
}

func NewHTTPPostbackSender(db database.IDataSource) *HTTPPostbackSender {
	return &HTTPPostbackSender{
		datasource: db,
		client:     request.NewClient("postback"),
	}
}

// SendPostback looks the conversion up fresh so the receiver sees the
// post-transition status, then posts it with a small retry budget.
func (s *HTTPPostbackSender) SendPostback(ctx context.Context, conversionID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	if cfg.Postback.Url == "" {
		return nil
	}

	cvn, err := s.datasource.GetConversion(ctx, conversionID)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(ctx, cfg.Postback.Url, request.Options{
		Body:    cvn,
		Headers: cfg.Postback.Headers,
		Timeout: time.Duration(cfg.Postback.Timeout) * time.Second,
		Retries: 2,
	})
	if err != nil {
		return err
	}
	if !resp.Ok() {
		logrus.WithFields(logrus.Fields{
			"conversion_id": conversionID,
			"status":        resp.StatusCode,
		}).Warn("postback endpoint refused conversion")
	}
	return nil
}
