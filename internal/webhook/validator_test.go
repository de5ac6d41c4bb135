package webhook

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeLookup(records map[string][]string) func(string) ([]net.IP, error) {
	return func(host string) ([]net.IP, error) {
		addrs, ok := records[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = net.ParseIP(a)
		}
		return ips, nil
	}
}

func TestValidateTargetURLWithOptions(t *testing.T) {
	opts := ValidationOptions{LookupIP: fakeLookup(map[string][]string{
		"example.com":          {"93.184.216.34"},
		"api.example.com":      {"93.184.216.35"},
		"internal.example.com": {"10.1.2.3"},
		"mixed.example.com":    {"93.184.216.34", "192.168.0.10"},
	})}

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"valid https url", "https://example.com/webhook", nil},
		{"valid https with path", "https://api.example.com/v1/webhooks", nil},
		{"port 443 allowed", "https://example.com:443/webhook", nil},
		{"unresolvable host deferred", "https://nowhere.example.org/hook", nil},
		{"http not allowed", "http://example.com/webhook", ErrInvalidScheme},
		{"ftp not allowed", "ftp://example.com/webhook", ErrInvalidScheme},
		{"localhost blocked", "https://localhost/webhook", ErrLocalhostBlocked},
		{"127.0.0.1 blocked", "https://127.0.0.1/webhook", ErrLocalhostBlocked},
		{".local domain blocked", "https://myserver.local/webhook", ErrLocalhostBlocked},
		{"non-standard port blocked", "https://example.com:8443/webhook", ErrInvalidPort},
		{"private literal blocked", "https://10.0.0.8/webhook", ErrPrivateIP},
		{"metadata endpoint blocked", "https://169.254.169.254/latest", ErrPrivateIP},
		{"resolves to private", "https://internal.example.com/hook", ErrPrivateIP},
		{"any private record blocks", "https://mixed.example.com/hook", ErrPrivateIP},
		{"empty host", "https:///webhook", ErrEmptyHost},
		{"unparsable", "https://exa mple.com/%zz", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetURLWithOptions(tt.url, opts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateTargetURLWithOptions_AllowInsecure(t *testing.T) {
	opts := ValidationOptions{AllowInsecure: true}

	assert.NoError(t, ValidateTargetURLWithOptions("http://localhost:9000/hook", opts))
	assert.NoError(t, ValidateTargetURLWithOptions("http://10.0.0.8/hook", opts))
	assert.ErrorIs(t, ValidateTargetURLWithOptions("ftp://localhost/hook", opts), ErrInvalidScheme)
	assert.ErrorIs(t, ValidateTargetURLWithOptions("http:///hook", opts), ErrEmptyHost)
}

func TestIsBlockedIP(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP: %s", tt.ip)
			}
			assert.Equal(t, tt.blocked, isBlockedIP(ip))
		})
	}
}

func TestExtractHost(t *testing.T) {
	assert.Equal(t, "example.com", ExtractHost("https://example.com/webhook?token=secret"))
	assert.Equal(t, "api.example.com:443", ExtractHost("https://api.example.com:443/v1"))
	assert.Equal(t, "", ExtractHost("invalid-url"))
}
