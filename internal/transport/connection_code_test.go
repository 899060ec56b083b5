package transport

import "testing"

func TestParseConnectionCode(t *testing.T) {
	cases := []struct {
		name string
		code string
		want string
	}{
		{"melq scheme", "melq://127.0.0.1:42045", "ws://127.0.0.1:42045/ws"},
		{"https non-tunnel host", "https://hub.example.com", "wss://hub.example.com/ws"},
		{"https tunnel host omits ws path", "https://abcd1234.ngrok-free.app", "wss://abcd1234.ngrok-free.app"},
		{"https tunnel host loca.lt", "https://my-tunnel.loca.lt", "wss://my-tunnel.loca.lt"},
		{"http non-tunnel host stays plain ws", "http://hub.example.com:8080", "ws://hub.example.com:8080/ws"},
		{"http tunnel host upgrades to wss", "http://abcd1234.serveo.net", "wss://abcd1234.serveo.net/ws"},
		{"numeric host:port", "192.168.1.5:42045", "ws://192.168.1.5:42045/ws"},
		{"bare dotted domain", "hub.example.com", "wss://hub.example.com/ws"},
		{"trims surrounding whitespace", "  melq://127.0.0.1:42045  ", "ws://127.0.0.1:42045/ws"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseConnectionCode(tc.code)
			if err != nil {
				t.Fatalf("ParseConnectionCode(%q): %v", tc.code, err)
			}
			if got != tc.want {
				t.Fatalf("ParseConnectionCode(%q) = %q, want %q", tc.code, got, tc.want)
			}
		})
	}
}

func TestParseConnectionCodeRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"melq scheme missing host", "melq://"},
		{"https scheme missing host", "https://"},
		{"http scheme missing host", "http://"},
		{"bare host with no dot and no port", "localhost"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseConnectionCode(tc.code); err == nil {
				t.Fatalf("ParseConnectionCode(%q): expected error, got none", tc.code)
			}
		})
	}
}

func TestValidURL(t *testing.T) {
	if !ValidURL("ws://127.0.0.1:42045/ws") {
		t.Fatal("expected a resolved ws:// URL to be valid")
	}
	if ValidURL("not a url") {
		t.Fatal("expected a bare string with no scheme/host to be invalid")
	}
	if ValidURL("") {
		t.Fatal("expected an empty string to be invalid")
	}
}
