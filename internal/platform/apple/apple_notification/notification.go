package apple_notification

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt"
)

const appleRootCAG3RootPem = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

// New verifies the signed JWS payload of an App Store Server Notification V2
// against the Apple root certificate and decodes it.
func New(payload string) (*AppStoreServerNotification, error) {
	asn := &AppStoreServerNotification{}
	asn.appleRootCert = appleRootCAG3RootPem
	if err := asn.parseJWTSignedPayload(payload); err != nil {
		return nil, err
	}
	return asn, nil
}

// extractCertByIndex pulls one DER certificate out of the x5c header chain.
func (asn *AppStoreServerNotification) extractCertByIndex(payload string, index int) ([]byte, error) {
	payloadArr := strings.Split(payload, ".")
	if len(payloadArr) < 1 {
		return nil, errors.New("malformed JWS payload")
	}

	headerByte, err := base64.RawStdEncoding.DecodeString(payloadArr[0])
	if err != nil {
		return nil, err
	}

	var header NotificationHeader
	if err := json.Unmarshal(headerByte, &header); err != nil {
		return nil, err
	}
	if index >= len(header.X5c) {
		return nil, errors.New("x5c chain too short")
	}

	return base64.StdEncoding.DecodeString(header.X5c[index])
}

func (asn *AppStoreServerNotification) verifyCertificateChain(rootCert, intermediateCert []byte) error {
	roots := x509.NewCertPool()
	if ok := roots.AppendCertsFromPEM([]byte(asn.appleRootCert)); !ok {
		return errors.New("root certificate couldn't be parsed")
	}

	interCert, err := x509.ParseCertificate(intermediateCert)
	if err != nil {
		return errors.New("intermediate certificate couldn't be parsed")
	}
	intermediates := x509.NewCertPool()
	intermediates.AddCert(interCert)

	cert, err := x509.ParseCertificate(rootCert)
	if err != nil {
		return err
	}

	opts := x509.VerifyOptions{Roots: roots, Intermediates: intermediates}
	if _, err := cert.Verify(opts); err != nil {
		return err
	}
	return nil
}

func (asn *AppStoreServerNotification) extractPublicKey(payload string) (*ecdsa.PublicKey, error) {
	certStr, err := asn.extractCertByIndex(payload, 0)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(certStr)
	if err != nil {
		return nil, err
	}

	switch pk := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return pk, nil
	default:
		return nil, errors.New("appstore public key must be of type ecdsa.PublicKey")
	}
}

func (asn *AppStoreServerNotification) parseJWTSignedPayload(payload string) error {
	leafCert, err := asn.extractCertByIndex(payload, 2)
	if err != nil {
		return err
	}

	intermediateCert, err := asn.extractCertByIndex(payload, 1)
	if err != nil {
		return err
	}

	if err = asn.verifyCertificateChain(leafCert, intermediateCert); err != nil {
		return err
	}

	notificationPayload := &NotificationPayload{}
	_, err = jwt.ParseWithClaims(payload, notificationPayload, func(token *jwt.Token) (interface{}, error) {
		return asn.extractPublicKey(payload)
	})
	if err != nil {
		return err
	}
	asn.Payload = notificationPayload
	asn.IsTestNotification = asn.Payload.NotificationType == NotificationTypeTest
	asn.IsSandbox = asn.Payload.Data.Environment == "Sandbox"

	if asn.IsTestNotification {
		asn.IsValid = true
		return nil
	}

	transactionInfo := &TransactionInfo{}
	payload = asn.Payload.Data.SignedTransactionInfo
	_, err = jwt.ParseWithClaims(payload, transactionInfo, func(token *jwt.Token) (interface{}, error) {
		return asn.extractPublicKey(payload)
	})
	if err != nil {
		return err
	}
	asn.TransactionInfo = transactionInfo

	if asn.Payload.Data.SignedRenewalInfo != "" {
		renewalInfo := &RenewalInfo{}
		payload = asn.Payload.Data.SignedRenewalInfo
		_, err = jwt.ParseWithClaims(payload, renewalInfo, func(token *jwt.Token) (interface{}, error) {
			return asn.extractPublicKey(payload)
		})
		if err != nil {
			return err
		}
		asn.RenewalInfo = renewalInfo
	}

	asn.IsValid = true
	return nil
}
