package walletconnect

import (
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"
)

// WriteQR renders uri as a QR code of block characters on w. Each module
// is two columns wide so the code stays square in a terminal.
func WriteQR(w io.Writer, uri string) error {
	code, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode pairing uri: %w", err)
	}

	var b strings.Builder
	for _, row := range code.Bitmap() {
		for _, dark := range row {
			if dark {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteByte('\n')
	}
	_, err = io.WriteString(w, b.String())
	return err
}

// WriteQRFile writes uri as a PNG QR code of size pixels to path.
func WriteQRFile(path, uri string, size int) error {
	if err := qrcode.WriteFile(uri, qrcode.Medium, size, path); err != nil {
		return fmt.Errorf("write pairing qr code: %w", err)
	}
	return nil
}
