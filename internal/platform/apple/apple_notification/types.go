package apple_notification

// App Store Server Notifications V2 vocabulary, as delivered in the signed
// payload. Only the notification types this service reacts to are listed.
const (
	NotificationTypeSubscribed             = "SUBSCRIBED"
	NotificationTypeDidRenew               = "DID_RENEW"
	NotificationTypeDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	NotificationTypeDidFailToRenew         = "DID_FAIL_TO_RENEW"
	NotificationTypeExpired                = "EXPIRED"
	NotificationTypeGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	NotificationTypeRefund                 = "REFUND"
	NotificationTypeTest                   = "TEST"
)

const (
	SubtypeInitialBuy        = "INITIAL_BUY"
	SubtypeResubscribe       = "RESUBSCRIBE"
	SubtypeAutoRenewEnabled  = "AUTO_RENEW_ENABLED"
	SubtypeAutoRenewDisabled = "AUTO_RENEW_DISABLED"
	SubtypeGracePeriod       = "GRACE_PERIOD"
	SubtypeBillingRetry      = "BILLING_RETRY"
	SubtypeVoluntary         = "VOLUNTARY"
)

// AppStoreServerRequest is the webhook body: a single signed JWS string.
type AppStoreServerRequest struct {
	SignedPayload string `json:"signedPayload"`
}

// NotificationHeader is the JWS header carrying the x5c certificate chain.
type NotificationHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
}

type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

type NotificationPayload struct {
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

// Valid implements jwt.Claims; signature validity is what matters here.
func (p *NotificationPayload) Valid() error { return nil }

type TransactionInfo struct {
	TransactionID               string `json:"transactionId"`
	OriginalTransactionID       string `json:"originalTransactionId"`
	WebOrderLineItemID          string `json:"webOrderLineItemId"`
	BundleID                    string `json:"bundleId"`
	ProductID                   string `json:"productId"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier"`
	PurchaseDate                int64  `json:"purchaseDate"`
	OriginalPurchaseDate        int64  `json:"originalPurchaseDate"`
	ExpiresDate                 int64  `json:"expiresDate"`
	Type                        string `json:"type"`
	AppAccountToken             string `json:"appAccountToken"`
	InAppOwnershipType          string `json:"inAppOwnershipType"`
	RevocationDate              int64  `json:"revocationDate"`
	RevocationReason            int    `json:"revocationReason"`
	Environment                 string `json:"environment"`
	Currency                    string `json:"currency"`
	Price                       int64  `json:"price"`
}

func (t *TransactionInfo) Valid() error { return nil }

type RenewalInfo struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId"`
	ProductID              string `json:"productId"`
	AutoRenewStatus        int    `json:"autoRenewStatus"`
	RenewalDate            int64  `json:"renewalDate"`
	ExpirationIntent       int    `json:"expirationIntent"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod"`
	SignedDate             int64  `json:"signedDate"`
	Environment            string `json:"environment"`
}

func (r *RenewalInfo) Valid() error { return nil }

// AppStoreServerNotification is the verified, decoded notification.
type AppStoreServerNotification struct {
	Payload         *NotificationPayload
	TransactionInfo *TransactionInfo
	RenewalInfo     *RenewalInfo

	IsValid            bool
	IsTestNotification bool
	IsSandbox          bool

	appleRootCert string
}
