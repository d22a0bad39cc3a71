package apple_iap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/awa/go-iap/appstore"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

// Alternate returns the other verification environment.
func (e Environment) Alternate() Environment {
	if e == EnvironmentProduction {
		return EnvironmentSandbox
	}
	return EnvironmentProduction
}

// Receipt statuses that signal an environment mismatch rather than an
// invalid receipt: 21007 = sandbox receipt sent to production, 21008 =
// production receipt sent to sandbox.
const (
	StatusOK                  = 0
	StatusSandboxOnProduction = 21007
	StatusProductionOnSandbox = 21008
)

type VerifyOptions struct {
	SharedSecret string
	BundleID     string
}

type ReceiptInfo struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	AppAccountToken       string `json:"app_account_token"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	CancellationDateMS    string `json:"cancellation_date_ms"`
	IsTrialPeriod         string `json:"is_trial_period"`
	IsInIntroOfferPeriod  string `json:"is_in_intro_offer_period"`
}

type PendingRenewalInfo struct {
	ProductID          string `json:"product_id"`
	AutoRenewStatus    string `json:"auto_renew_status"`
	IsInBillingRetry   string `json:"is_in_billing_retry_period"`
	GracePeriodExpires string `json:"grace_period_expires_date_ms"`
}

// VerifyResponse is the subset of the verifyReceipt answer this service
// consumes.
type VerifyResponse struct {
	Status  int `json:"status"`
	Receipt struct {
		BundleID string         `json:"bundle_id"`
		InApp    []*ReceiptInfo `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo  []*ReceiptInfo        `json:"latest_receipt_info"`
	PendingRenewalInfo []*PendingRenewalInfo `json:"pending_renewal_info"`
	Environment        string                `json:"environment"`
}

// EnvironmentMismatch reports whether the status means the receipt belongs
// to the other environment.
func (r *VerifyResponse) EnvironmentMismatch() bool {
	return r != nil && (r.Status == StatusSandboxOnProduction || r.Status == StatusProductionOnSandbox)
}

// ReceiptVerifier verifies an opaque receipt blob against one environment's
// verifyReceipt endpoint.
type ReceiptVerifier interface {
	VerifyReceipt(ctx context.Context, receiptData string, env Environment) (*VerifyResponse, error)
}

type Client struct {
	opts    *VerifyOptions
	timeout time.Duration
}

func NewClient(opts *VerifyOptions, timeout time.Duration) (*Client, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}
	return &Client{opts: opts, timeout: timeout}, nil
}

func (c *Client) VerifyReceipt(ctx context.Context, receiptData string, env Environment) (*VerifyResponse, error) {
	client := appstore.NewWithClient(&http.Client{Timeout: c.timeout})
	if env == EnvironmentSandbox {
		client.ProductionURL = client.SandboxURL
	} else {
		client.SandboxURL = client.ProductionURL
	}

	var result VerifyResponse
	err := client.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               c.opts.SharedSecret,
		ExcludeOldTransactions: false,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}

	return &result, nil
}
