package google_play

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/awa/go-iap/playstore"
	"google.golang.org/api/androidpublisher/v3"
)

// Purchase states on one-time products: 0 purchased, 1 cancelled, 2 pending.
const (
	PurchaseStatePurchased = 0
	PurchaseStatePending   = 2
)

// Acknowledgement states: 0 yet to be acknowledged, 1 acknowledged.
const (
	AcknowledgementStatePending      = 0
	AcknowledgementStateAcknowledged = 1
)

type Options struct {
	// ServiceAccountKey is the Play Developer API JSON key, optionally
	// base64 encoded.
	ServiceAccountKey string
	PackageName       string
}

type Client struct {
	ps          *playstore.Client
	packageName string
}

func NewClient(opts *Options, timeout time.Duration) (*Client, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}
	if opts.PackageName == "" {
		return nil, errors.New("package name is empty")
	}

	key := []byte(opts.ServiceAccountKey)
	if !strings.HasPrefix(opts.ServiceAccountKey, "{") {
		decoded, err := base64.StdEncoding.DecodeString(opts.ServiceAccountKey)
		if err != nil {
			return nil, fmt.Errorf("invalid service account key format: %w", err)
		}
		key = decoded
	}

	ps, err := playstore.NewWithClient(key, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to init play client: %w", err)
	}
	return &Client{ps: ps, packageName: opts.PackageName}, nil
}

func (c *Client) VerifySubscription(ctx context.Context, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error) {
	return c.ps.VerifySubscription(ctx, c.packageName, subscriptionID, token)
}

func (c *Client) VerifyProduct(ctx context.Context, productID, token string) (*androidpublisher.ProductPurchase, error) {
	return c.ps.VerifyProduct(ctx, c.packageName, productID, token)
}

func (c *Client) AcknowledgeSubscription(ctx context.Context, subscriptionID, token string) error {
	return c.ps.AcknowledgeSubscription(ctx, c.packageName, subscriptionID, token, &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{})
}

func (c *Client) AcknowledgeProduct(ctx context.Context, productID, token string) error {
	return c.ps.AcknowledgeProduct(ctx, c.packageName, productID, token, "")
}
