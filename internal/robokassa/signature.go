package robokassa

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Secrets holds the merchant credentials used for callback verification and
// payment-URL signing. PassOne signs the redirect channel, PassTwo the
// server-notification channel. MD5 is the gateway's protocol, not a choice.
type Secrets struct {
	MerchantLogin string
	PassOne       string
	PassTwo       string
}

// Verify checks a callback signature for the given channel. It fails closed:
// any missing field means failure without hashing. Comparison is
// case-insensitive because the gateway is inconsistent about hex casing.
func Verify(cb Callback, channel Channel, secrets Secrets) bool {
	if !cb.complete() {
		return false
	}

	received := strings.ToLower(cb.SignatureValue)

	switch channel {
	case ChannelResult:
		if secrets.PassTwo == "" {
			return false
		}
		return md5Hex(fmt.Sprintf("%s:%s:%s", cb.OutSum, cb.InvID, secrets.PassTwo)) == received

	case ChannelSuccess:
		if secrets.PassOne == "" {
			return false
		}
		// Some gateway configurations include the merchant login in the
		// redirect signature and some don't; accept either form.
		if secrets.MerchantLogin != "" {
			withLogin := md5Hex(fmt.Sprintf("%s:%s:%s:%s", secrets.MerchantLogin, cb.OutSum, cb.InvID, secrets.PassOne))
			if withLogin == received {
				return true
			}
		}
		return md5Hex(fmt.Sprintf("%s:%s:%s", cb.OutSum, cb.InvID, secrets.PassOne)) == received

	default:
		return false
	}
}

// SignPayment produces the signature for an outbound payment URL:
// MerchantLogin:OutSum:InvId:Password1.
func SignPayment(merchantLogin, outSum, invID, passOne string) string {
	return md5Hex(fmt.Sprintf("%s:%s:%s:%s", merchantLogin, outSum, invID, passOne))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
