package links

import (
	"errors"
	"net/url"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultQRSize = 512
	minQRSize     = 128
	maxQRSize     = 2048
)

var ErrInvalidQRSize = errors.New("invalid size: must be between 128 and 2048")

// QRTargetURL is the URL encoded in a link's QR code. The src=qr marker lets
// the redirect raise qr.scanned alongside link.click.
func QRTargetURL(shortDomain, shortCode string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     shortDomain,
		Path:     "/" + shortCode,
		RawQuery: "src=qr",
	}
	return u.String()
}

// GenerateQRCode renders target as a PNG of size×size pixels.
func GenerateQRCode(target string, size int) ([]byte, error) {
	if size == 0 {
		size = DefaultQRSize
	}
	if size < minQRSize || size > maxQRSize {
		return nil, ErrInvalidQRSize
	}

	qr, err := qrcode.New(target, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	qr.DisableBorder = false

	return qr.PNG(size)
}
