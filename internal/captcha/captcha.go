// Package captcha generates and verifies the text challenges embedded in
// lockout tracker rows.
package captcha

import (
	"image/color"

	"github.com/mojocn/base64Captcha"
)

// Config controls challenge generation.
type Config struct {
	Length     int
	NoiseCount int
}

// Service produces short alphanumeric challenges and their human-solvable
// PNG renderings. Verification is an exact, case-sensitive match; challenge
// lifetime is bounded by the lockout tracker overwriting the stored text,
// not by the service itself.
type Service struct {
	driver *base64Captcha.DriverString
}

const challengeCharset = "234578acdefghjkmnpqrtuvwxyzABCDEFGHJKLMNPQRTUVWXY"

func New(cfg Config) *Service {
	if cfg.Length <= 0 {
		cfg.Length = 6
	}
	driver := base64Captcha.NewDriverString(
		46,
		140,
		cfg.NoiseCount,
		base64Captcha.OptionShowHollowLine,
		cfg.Length,
		challengeCharset,
		&color.RGBA{R: 0xcc, G: 0x99, B: 0x66, A: 0xff},
		nil,
		nil,
	)
	return &Service{driver: driver.ConvertFonts()}
}

// NewText returns a fresh challenge string.
func (s *Service) NewText() (string, error) {
	_, content, _ := s.driver.GenerateIdQuestionAnswer()
	return content, nil
}

// Render draws the challenge text and returns it as a base64-encoded PNG
// data URI.
func (s *Service) Render(text string) (string, error) {
	item, err := s.driver.DrawCaptcha(text)
	if err != nil {
		return "", err
	}
	return item.EncodeB64string(), nil
}

// Verify compares the user's answer against the expected challenge text.
func (s *Service) Verify(input, expected string) bool {
	return expected != "" && input == expected
}
