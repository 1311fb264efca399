package environment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Document is the environment.json served for a client/path/environment
// triple. It is treated as read-only once decoded.
type Document struct {
	ClientID            string              `json:"clientId"`
	Version             string              `json:"version"`
	Enforcement         bool                `json:"enforcement"`
	EnablePrivacyNotice bool                `json:"enablePrivacyNotice"`
	EnableConsentModal  bool                `json:"enableConsentModal"`
	Translation         Translation         `json:"translation"`
	BannerConfig        *BannerConfig       `json:"bannerConfig,omitempty"`
	ConsentModalConfig  *ConsentModalConfig `json:"consentModalConfig,omitempty"`
}

// Translation is the UI text bundle. Every field is optional.
type Translation struct {
	NotificationBannerContent     string                   `json:"notificationBannerContent,omitempty"`
	NotificationBannerAllowAll    string                   `json:"notificationBannerAllowAll,omitempty"`
	NotificationBannerDenyAll     string                   `json:"notificationBannerDenyAll,omitempty"`
	NotificationBannerPreferences string                   `json:"notificationBannerPreferences,omitempty"`
	ConsentTitle                  string                   `json:"consentTitle,omitempty"`
	ConsentDescription            string                   `json:"consentDescription,omitempty"`
	ConsentModalAllowAll          string                   `json:"consentModalAllowAll,omitempty"`
	ConsentModalDenyAll           string                   `json:"consentModalDenyAll,omitempty"`
	Save                          string                   `json:"save,omitempty"`
	Cancel                        string                   `json:"cancel,omitempty"`
	Close                         string                   `json:"close,omitempty"`
	Cookies                       map[string]CookieDetails `json:"cookies,omitempty"`
}

type CookieDetails struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Item toggles a single button.
type Item struct {
	Show bool `json:"show"`
}

type BannerConfig struct {
	AcceptAll   *Item `json:"ensAcceptAll,omitempty"`
	RejectAll   *Item `json:"ensRejectAll,omitempty"`
	OpenModal   *Item `json:"ensOpenModal,omitempty"`
	CloseBanner *Item `json:"ensCloseBanner,omitempty"`
}

type ConsentModalConfig struct {
	AcceptAll  *Item `json:"ensConsentAcceptAll,omitempty"`
	RejectAll  *Item `json:"ensConsentRejectAll,omitempty"`
	SaveModal  *Item `json:"ensSaveModal,omitempty"`
	CloseModal *Item `json:"ensCloseModal,omitempty"`
}

// Shown reports whether the button is visible. A missing item is hidden.
func (i *Item) Shown() bool {
	return i != nil && i.Show
}

// HasModalText reports whether the translation carries the title and
// description a consent modal needs.
func (t Translation) HasModalText() bool {
	return strings.TrimSpace(t.ConsentTitle) != "" && strings.TrimSpace(t.ConsentDescription) != ""
}

// Categories returns the cookie category keys described by the translation.
func (t Translation) Categories() []string {
	out := make([]string, 0, len(t.Cookies))
	for k := range t.Cookies {
		out = append(out, k)
	}
	return out
}

// ModalConfigOrEmpty returns the modal config, or an all-hidden one.
func (d *Document) ModalConfigOrEmpty() ConsentModalConfig {
	if d.ConsentModalConfig == nil {
		return ConsentModalConfig{}
	}
	return *d.ConsentModalConfig
}

// Mode returns the billing mode label.
func (d *Document) Mode() string {
	if d.Enforcement {
		return "enforce"
	}
	return "observe"
}

// ListMode returns the consent mode label.
func (d *Document) ListMode() string {
	if d.Enforcement {
		return "whitelist"
	}
	return "blacklist"
}

// wireDocument mirrors Document with pointers on the required fields so a
// missing key is a decode failure rather than a zero value.
type wireDocument struct {
	ClientID            *string             `json:"clientId"`
	Version             *string             `json:"version"`
	Enforcement         *bool               `json:"enforcement"`
	EnablePrivacyNotice *bool               `json:"enablePrivacyNotice"`
	EnableConsentModal  *bool               `json:"enableConsentModal"`
	Translation         *Translation        `json:"translation"`
	BannerConfig        *BannerConfig       `json:"bannerConfig"`
	ConsentModalConfig  *ConsentModalConfig `json:"consentModalConfig"`
}

// Decode parses an environment document. clientId, version, enforcement,
// both toggles and translation are required.
func Decode(data []byte) (*Document, error) {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	var missing []string
	if w.ClientID == nil {
		missing = append(missing, "clientId")
	}
	if w.Version == nil {
		missing = append(missing, "version")
	}
	if w.Enforcement == nil {
		missing = append(missing, "enforcement")
	}
	if w.EnablePrivacyNotice == nil {
		missing = append(missing, "enablePrivacyNotice")
	}
	if w.EnableConsentModal == nil {
		missing = append(missing, "enableConsentModal")
	}
	if w.Translation == nil {
		missing = append(missing, "translation")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w: %s", ErrDecodeFailed, errMissingFields, strings.Join(missing, ", "))
	}

	return &Document{
		ClientID:            *w.ClientID,
		Version:             *w.Version,
		Enforcement:         *w.Enforcement,
		EnablePrivacyNotice: *w.EnablePrivacyNotice,
		EnableConsentModal:  *w.EnableConsentModal,
		Translation:         *w.Translation,
		BannerConfig:        w.BannerConfig,
		ConsentModalConfig:  w.ConsentModalConfig,
	}, nil
}

var errMissingFields = errors.New("missing required fields")
